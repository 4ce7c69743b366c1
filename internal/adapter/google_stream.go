// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/isboyjc/amux/internal/apischema/gemini"
	"github.com/isboyjc/amux/internal/ir"
)

func (g googleAdapter) NewStreamParser() StreamParser {
	return &googleStreamParser{}
}

// googleStreamParser translates a streamGenerateContent SSE stream. The
// dialect has no terminator event; the final chunk carries finishReason
// and usageMetadata, and End() emits the canonical end at upstream EOF.
type googleStreamParser struct {
	started      bool
	ended        bool
	finishReason ir.FinishReason
	usage        *ir.Usage
	toolCalls    int
}

func (p *googleStreamParser) Parse(ev SSEEvent) ([]ir.StreamEvent, error) {
	var chunk gemini.GenerateContentResponse
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, fmt.Errorf("invalid google stream chunk: %w", err)
	}

	var out []ir.StreamEvent
	if !p.started {
		p.started = true
		out = append(out, ir.StartEvent(chunk.ResponseID, chunk.ModelVersion))
	}
	if chunk.UsageMetadata != nil {
		u := usageFromGoogle(chunk.UsageMetadata)
		p.usage = &u
	}
	for _, cand := range chunk.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				switch {
				case part.Text != "" && part.Thought:
					out = append(out, ir.ReasoningEvent(part.Text))
				case part.Text != "":
					out = append(out, ir.ContentEvent(int(cand.Index), part.Text))
				case part.FunctionCall != nil:
					args, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						return nil, fmt.Errorf("invalid functionCall args: %w", err)
					}
					// Gemini streams whole calls, never argument deltas.
					out = append(out, ir.StreamEvent{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
						Index:          p.toolCalls,
						ID:             part.FunctionCall.ID,
						Name:           part.FunctionCall.Name,
						ArgumentsDelta: string(args),
					}})
					p.toolCalls++
					p.finishReason = ir.FinishToolCalls
				}
			}
		}
		if cand.FinishReason != "" && p.finishReason != ir.FinishToolCalls {
			p.finishReason = finishReasonFromGoogle(cand.FinishReason)
		}
	}
	return out, nil
}

func (p *googleStreamParser) End() []ir.StreamEvent {
	if p.ended || !p.started {
		p.ended = true
		return nil
	}
	p.ended = true
	reason := p.finishReason
	if reason == "" {
		reason = ir.FinishStop
	}
	return []ir.StreamEvent{ir.EndEvent(reason, p.usage)}
}

func (g googleAdapter) NewStreamBuilder() StreamBuilder {
	return &googleStreamBuilder{pendingCalls: map[int]*pendingFunctionCall{}}
}

// pendingFunctionCall accumulates argument deltas until the stream ends;
// Gemini clients expect complete functionCall parts, not fragments.
type pendingFunctionCall struct {
	id   string
	name string
	args string
}

// googleStreamBuilder frames canonical events as generateContent chunks,
// `data:` only, no terminator of its own.
type googleStreamBuilder struct {
	id           string
	model        string
	pendingCalls map[int]*pendingFunctionCall
	order        []int
}

func (b *googleStreamBuilder) chunk(candidates []*gemini.Candidate, usage *gemini.UsageMetadata) (Frame, error) {
	data, err := json.Marshal(&gemini.GenerateContentResponse{
		ResponseID:    b.id,
		ModelVersion:  b.model,
		Candidates:    candidates,
		UsageMetadata: usage,
	})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal stream chunk: %w", err)
	}
	return Frame{Data: data}, nil
}

func (b *googleStreamBuilder) textChunk(text string, thought bool, index int) (Frame, error) {
	return b.chunk([]*gemini.Candidate{{
		Index: int32(index), //nolint:gosec
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: text, Thought: thought}},
		},
	}}, nil)
}

func (b *googleStreamBuilder) Next(ev ir.StreamEvent) ([]Frame, error) {
	switch ev.Type {
	case ir.StreamStart:
		b.id = ev.ID
		b.model = ev.Model
		return nil, nil

	case ir.StreamContent:
		f, err := b.textChunk(ev.Delta, false, ev.Index)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamReasoning:
		f, err := b.textChunk(ev.Delta, true, 0)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamToolCall:
		tc := ev.ToolCall
		call, ok := b.pendingCalls[tc.Index]
		if !ok {
			call = &pendingFunctionCall{}
			b.pendingCalls[tc.Index] = call
			b.order = append(b.order, tc.Index)
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Name != "" {
			call.name = tc.Name
		}
		call.args += tc.ArgumentsDelta
		return nil, nil

	case ir.StreamEnd:
		var parts []*genai.Part
		for _, idx := range b.order {
			call := b.pendingCalls[idx]
			var args map[string]any
			_ = json.Unmarshal([]byte(call.args), &args)
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   call.id,
				Name: call.name,
				Args: args,
			}})
		}
		cand := &gemini.Candidate{
			FinishReason: finishReasonToGoogle(ev.FinishReason),
		}
		if parts != nil {
			cand.Content = &genai.Content{Role: "model", Parts: parts}
		}
		var usage *gemini.UsageMetadata
		if ev.Usage != nil {
			usage = &gemini.UsageMetadata{
				PromptTokenCount:     int32(ev.Usage.PromptTokens),     //nolint:gosec
				CandidatesTokenCount: int32(ev.Usage.CompletionTokens), //nolint:gosec
				TotalTokenCount:      int32(ev.Usage.TotalTokens),      //nolint:gosec
			}
		}
		f, err := b.chunk([]*gemini.Candidate{cand}, usage)
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamError:
		data, err := json.Marshal(&gemini.ErrorResponse{Error: gemini.ErrorDetail{
			Code:    ev.Err.StatusCode,
			Message: ev.Err.Message,
			Status:  "INTERNAL",
		}})
		if err != nil {
			return nil, err
		}
		return []Frame{{Data: data}}, nil

	default:
		return nil, nil
	}
}
