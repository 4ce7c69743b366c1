// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/isboyjc/amux/internal/apischema/anthropic"
	"github.com/isboyjc/amux/internal/ir"
)

func (a anthropicAdapter) NewStreamParser() StreamParser {
	return &anthropicStreamParser{
		blockTypes: map[int]string{},
		toolIndex:  map[int]int{},
	}
}

// anthropicStreamParser translates one Messages API SSE stream into
// canonical events. Block indexes are remapped to tool-call ordinals so
// OpenAI-style builders see contiguous tool indexes, and the input-token
// count from message_start is folded into the usage reported on end.
type anthropicStreamParser struct {
	started      bool
	ended        bool
	blockTypes   map[int]string
	toolIndex    map[int]int
	nextTool     int
	stopReason   anthropic.StopReason
	inputTokens  int64
	outputTokens int64
}

func (p *anthropicStreamParser) Parse(evt SSEEvent) ([]ir.StreamEvent, error) {
	ev, err := anthropic.ParseStreamEvent(evt.Data)
	if err != nil {
		return nil, err
	}
	switch ev.Type {
	case anthropic.StreamEventMessageStart:
		p.started = true
		var id, model string
		if ev.Message != nil {
			id = ev.Message.ID
			model = ev.Message.Model
			if ev.Message.Usage != nil {
				p.inputTokens = ev.Message.Usage.InputTokens
			}
		}
		return []ir.StreamEvent{ir.StartEvent(id, model)}, nil

	case anthropic.StreamEventContentBlockStart:
		if ev.ContentBlock == nil {
			return nil, nil
		}
		p.blockTypes[ev.Index] = ev.ContentBlock.Type
		if ev.ContentBlock.Type == anthropic.ContentBlockTypeToolUse {
			idx := p.nextTool
			p.nextTool++
			p.toolIndex[ev.Index] = idx
			return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
				Index: idx,
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}}}, nil
		}
		return nil, nil

	case anthropic.StreamEventContentBlockDelta:
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case anthropic.DeltaTypeText:
			return []ir.StreamEvent{ir.ContentEvent(0, ev.Delta.Text)}, nil
		case anthropic.DeltaTypeThinking:
			return []ir.StreamEvent{ir.ReasoningEvent(ev.Delta.Thinking)}, nil
		case anthropic.DeltaTypeInputJSON:
			idx, ok := p.toolIndex[ev.Index]
			if !ok {
				return nil, fmt.Errorf("anthropic stream: input_json_delta for unknown block %d", ev.Index)
			}
			return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
				Index:          idx,
				ArgumentsDelta: ev.Delta.PartialJSON,
			}}}, nil
		default: // signature_delta and future kinds are noise here.
			return nil, nil
		}

	case anthropic.StreamEventContentBlockStop, anthropic.StreamEventPing:
		return nil, nil

	case anthropic.StreamEventMessageDelta:
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			p.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			p.outputTokens = ev.Usage.OutputTokens
		}
		return nil, nil

	case anthropic.StreamEventMessageStop:
		return p.End(), nil

	case anthropic.StreamEventError:
		e := &ir.Error{Kind: ir.ErrorKindAPI, Message: "anthropic stream error"}
		if ev.Error != nil {
			e.Code = ev.Error.Type
			e.Message = ev.Error.Message
			if kind, ok := anthropicErrorTypes[ev.Error.Type]; ok {
				e.Kind = kind
			}
		}
		return []ir.StreamEvent{ir.ErrorEvent(e)}, nil

	default:
		return nil, nil
	}
}

func (p *anthropicStreamParser) End() []ir.StreamEvent {
	if p.ended || !p.started {
		p.ended = true
		return nil
	}
	p.ended = true
	usage := &ir.Usage{
		PromptTokens:     uint32(p.inputTokens),                  //nolint:gosec
		CompletionTokens: uint32(p.outputTokens),                 //nolint:gosec
		TotalTokens:      uint32(p.inputTokens + p.outputTokens), //nolint:gosec
	}
	return []ir.StreamEvent{ir.EndEvent(finishReasonFromAnthropic(p.stopReason), usage)}
}

func (a anthropicAdapter) NewStreamBuilder() StreamBuilder {
	return &anthropicStreamBuilder{}
}

// Block kinds currently open in the builder.
const (
	openBlockNone     = ""
	openBlockText     = "text"
	openBlockThinking = "thinking"
	openBlockTool     = "tool_use"
)

// anthropicStreamBuilder frames canonical events as Messages API SSE,
// reconstructing the content_block envelope the dialect requires:
// message_start, then one content_block_start/delta/stop run per block,
// then message_delta carrying stop reason and usage, then message_stop.
type anthropicStreamBuilder struct {
	model      string
	openBlock  string
	blockIndex int
	opened     bool
}

func frameFor(eventType string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return Frame{Event: eventType, Data: data}, nil
}

// closeBlock emits the content_block_stop for the open block, if any.
func (b *anthropicStreamBuilder) closeBlock(frames []Frame) ([]Frame, error) {
	if b.openBlock == openBlockNone {
		return frames, nil
	}
	f, err := frameFor(anthropic.StreamEventContentBlockStop, &anthropic.StreamEvent{
		Type:  anthropic.StreamEventContentBlockStop,
		Index: b.blockIndex,
	})
	if err != nil {
		return nil, err
	}
	b.openBlock = openBlockNone
	b.blockIndex++
	return append(frames, f), nil
}

// openNewBlock closes any open block and starts a new one of the given kind.
func (b *anthropicStreamBuilder) openNewBlock(frames []Frame, kind string, block *anthropic.ContentBlock) ([]Frame, error) {
	frames, err := b.closeBlock(frames)
	if err != nil {
		return nil, err
	}
	f, err := frameFor(anthropic.StreamEventContentBlockStart, &anthropic.StreamEvent{
		Type:         anthropic.StreamEventContentBlockStart,
		Index:        b.blockIndex,
		ContentBlock: block,
	})
	if err != nil {
		return nil, err
	}
	b.openBlock = kind
	return append(frames, f), nil
}

func (b *anthropicStreamBuilder) delta(delta *anthropic.StreamDelta) (Frame, error) {
	return frameFor(anthropic.StreamEventContentBlockDelta, &anthropic.StreamEvent{
		Type:  anthropic.StreamEventContentBlockDelta,
		Index: b.blockIndex,
		Delta: delta,
	})
}

func (b *anthropicStreamBuilder) Next(ev ir.StreamEvent) ([]Frame, error) {
	switch ev.Type {
	case ir.StreamStart:
		b.model = ev.Model
		b.opened = true
		id := ev.ID
		if id == "" {
			id = "msg_" + uuid.NewString()
		}
		f, err := frameFor(anthropic.StreamEventMessageStart, &anthropic.StreamEvent{
			Type: anthropic.StreamEventMessageStart,
			Message: &anthropic.MessagesResponse{
				ID:      id,
				Type:    "message",
				Role:    anthropic.MessageRoleAssistant,
				Model:   ev.Model,
				Content: []anthropic.ContentBlock{},
				Usage:   &anthropic.Usage{},
			},
		})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamContent:
		var frames []Frame
		var err error
		if b.openBlock != openBlockText {
			frames, err = b.openNewBlock(frames, openBlockText, &anthropic.ContentBlock{
				Type: anthropic.ContentBlockTypeText,
			})
			if err != nil {
				return nil, err
			}
		}
		f, err := b.delta(&anthropic.StreamDelta{Type: anthropic.DeltaTypeText, Text: ev.Delta})
		if err != nil {
			return nil, err
		}
		return append(frames, f), nil

	case ir.StreamReasoning:
		var frames []Frame
		var err error
		if b.openBlock != openBlockThinking {
			frames, err = b.openNewBlock(frames, openBlockThinking, &anthropic.ContentBlock{
				Type: anthropic.ContentBlockTypeThinking,
			})
			if err != nil {
				return nil, err
			}
		}
		f, err := b.delta(&anthropic.StreamDelta{Type: anthropic.DeltaTypeThinking, Thinking: ev.Delta})
		if err != nil {
			return nil, err
		}
		return append(frames, f), nil

	case ir.StreamToolCall:
		tc := ev.ToolCall
		var frames []Frame
		var err error
		if tc.ID != "" || tc.Name != "" {
			frames, err = b.openNewBlock(frames, openBlockTool, &anthropic.ContentBlock{
				Type:  anthropic.ContentBlockTypeToolUse,
				ID:    tc.ID,
				Name:  tc.Name,
				Input: json.RawMessage("{}"),
			})
			if err != nil {
				return nil, err
			}
		}
		if tc.ArgumentsDelta != "" {
			f, err := b.delta(&anthropic.StreamDelta{Type: anthropic.DeltaTypeInputJSON, PartialJSON: tc.ArgumentsDelta})
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
		return frames, nil

	case ir.StreamEnd:
		frames, err := b.closeBlock(nil)
		if err != nil {
			return nil, err
		}
		deltaEv := &anthropic.StreamEvent{
			Type: anthropic.StreamEventMessageDelta,
			Delta: &anthropic.StreamDelta{
				StopReason: finishReasonToAnthropic(ev.FinishReason),
			},
		}
		if ev.Usage != nil {
			deltaEv.Usage = &anthropic.Usage{
				InputTokens:  int64(ev.Usage.PromptTokens),
				OutputTokens: int64(ev.Usage.CompletionTokens),
			}
		}
		f, err := frameFor(anthropic.StreamEventMessageDelta, deltaEv)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		f, err = frameFor(anthropic.StreamEventMessageStop, &anthropic.StreamEvent{
			Type: anthropic.StreamEventMessageStop,
		})
		if err != nil {
			return nil, err
		}
		return append(frames, f), nil

	case ir.StreamError:
		f, err := frameFor(anthropic.StreamEventError, &anthropic.ErrorResponse{
			Type: "error",
			Error: anthropic.ErrorDetail{
				Type:    errorTypeToAnthropic(ev.Err),
				Message: ev.Err.Message,
			},
		})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	default:
		return nil, nil
	}
}

// errorTypeToAnthropic renders a canonical error kind in the Messages API
// error taxonomy.
func errorTypeToAnthropic(e *ir.Error) string {
	switch e.Kind {
	case ir.ErrorKindValidation:
		return anthropic.ErrorTypeInvalidRequest
	case ir.ErrorKindAuthentication:
		return anthropic.ErrorTypeAuthentication
	case ir.ErrorKindPermission:
		return anthropic.ErrorTypePermission
	case ir.ErrorKindNotFound:
		return anthropic.ErrorTypeNotFound
	case ir.ErrorKindRateLimit:
		return anthropic.ErrorTypeRateLimit
	case ir.ErrorKindServer:
		return anthropic.ErrorTypeOverloaded
	default:
		return anthropic.ErrorTypeAPI
	}
}
