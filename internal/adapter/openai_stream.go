// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/isboyjc/amux/internal/apischema/openai"
	"github.com/isboyjc/amux/internal/ir"
)

var sseDoneMessage = []byte("[DONE]")

func (o openAI) NewStreamParser() StreamParser {
	return &openAIStreamParser{dialect: o.name}
}

// openAIStreamParser translates one OpenAI-style SSE stream into canonical
// events. Chunks repeat id/model on every frame; the parser keys the
// single start event off the first chunk and holds the end event until the
// [DONE] terminator (or upstream EOF) so late usage-only chunks are folded
// in.
type openAIStreamParser struct {
	dialect      string
	started      bool
	ended        bool
	finishReason ir.FinishReason
	sawFinish    bool
	usage        *ir.Usage
}

func (p *openAIStreamParser) Parse(ev SSEEvent) ([]ir.StreamEvent, error) {
	data := bytes.TrimSpace(ev.Data)
	if len(data) == 0 {
		return nil, nil
	}
	if bytes.Equal(data, sseDoneMessage) {
		return p.End(), nil
	}

	var chunk openai.ChatCompletionResponseChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("invalid %s stream chunk: %w", p.dialect, err)
	}

	var out []ir.StreamEvent
	if !p.started {
		p.started = true
		out = append(out, ir.StartEvent(chunk.ID, chunk.Model))
	}
	if chunk.Usage != nil {
		u := usageFromOpenAI(chunk.Usage)
		p.usage = &u
	}
	for _, c := range chunk.Choices {
		if c.Delta.ReasoningContent != "" {
			out = append(out, ir.ReasoningEvent(c.Delta.ReasoningContent))
		}
		if c.Delta.Content != nil && *c.Delta.Content != "" {
			out = append(out, ir.ContentEvent(c.Index, *c.Delta.Content))
		}
		for _, tc := range c.Delta.ToolCalls {
			out = append(out, ir.StreamEvent{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
				Index:          tc.Index,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			}})
		}
		if c.FinishReason != "" {
			p.finishReason = finishReasonFromOpenAI(c.FinishReason)
			p.sawFinish = true
		}
	}
	return out, nil
}

func (p *openAIStreamParser) End() []ir.StreamEvent {
	if p.ended || !p.started {
		p.ended = true
		return nil
	}
	p.ended = true
	reason := p.finishReason
	if !p.sawFinish {
		reason = ir.FinishStop
	}
	return []ir.StreamEvent{ir.EndEvent(reason, p.usage)}
}

func (o openAI) NewStreamBuilder() StreamBuilder {
	return &openAIStreamBuilder{}
}

// openAIStreamBuilder frames canonical events as OpenAI chat.completion
// chunks. The first frame carries the assistant role delta; end emits the
// finish-reason chunk, a usage chunk when usage was observed, and the
// [DONE] terminator.
type openAIStreamBuilder struct {
	id      string
	model   string
	created int64
}

func (b *openAIStreamBuilder) chunk(choices []openai.ChatCompletionResponseChunkChoice, usage *openai.Usage) (Frame, error) {
	data, err := json.Marshal(&openai.ChatCompletionResponseChunk{
		ID:      b.id,
		Object:  "chat.completion.chunk",
		Created: b.created,
		Model:   b.model,
		Choices: choices,
		Usage:   usage,
	})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal stream chunk: %w", err)
	}
	return Frame{Data: data}, nil
}

func (b *openAIStreamBuilder) Next(ev ir.StreamEvent) ([]Frame, error) {
	switch ev.Type {
	case ir.StreamStart:
		b.id = ev.ID
		if b.id == "" {
			b.id = "chatcmpl-" + uuid.NewString()
		}
		b.model = ev.Model
		b.created = time.Now().Unix()
		role := openai.ChatMessageRoleAssistant
		f, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{{
			Delta: openai.ChatCompletionDelta{Role: role},
		}}, nil)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamContent:
		f, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{{
			Index: ev.Index,
			Delta: openai.ChatCompletionDelta{Content: &ev.Delta},
		}}, nil)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamReasoning:
		f, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{{
			Delta: openai.ChatCompletionDelta{ReasoningContent: ev.Delta},
		}}, nil)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamToolCall:
		tc := ev.ToolCall
		delta := openai.ToolCallDelta{
			Index:    tc.Index,
			ID:       tc.ID,
			Function: openai.ToolCallFunction{Name: tc.Name, Arguments: tc.ArgumentsDelta},
		}
		if tc.ID != "" {
			delta.Type = "function"
		}
		f, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{{
			Delta: openai.ChatCompletionDelta{ToolCalls: []openai.ToolCallDelta{delta}},
		}}, nil)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamEnd:
		finish, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{{
			Delta:        openai.ChatCompletionDelta{},
			FinishReason: string(ev.FinishReason),
		}}, nil)
		if err != nil {
			return nil, err
		}
		frames := []Frame{finish}
		if ev.Usage != nil {
			usage, err := b.chunk([]openai.ChatCompletionResponseChunkChoice{}, &openai.Usage{
				PromptTokens:     int(ev.Usage.PromptTokens),
				CompletionTokens: int(ev.Usage.CompletionTokens),
				TotalTokens:      int(ev.Usage.TotalTokens),
			})
			if err != nil {
				return nil, err
			}
			frames = append(frames, usage)
		}
		return append(frames, Frame{Done: true}), nil

	case ir.StreamError:
		data, err := json.Marshal(&openai.ErrorResponse{Error: openai.ErrorDetail{
			Message: ev.Err.Message,
			Type:    "api_error",
			Code:    ev.Err.Code,
		}})
		if err != nil {
			return nil, err
		}
		return []Frame{{Data: data}}, nil

	default:
		return nil, nil
	}
}
