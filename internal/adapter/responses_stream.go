// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/isboyjc/amux/internal/apischema/openairesponses"
	"github.com/isboyjc/amux/internal/ir"
)

func (r responsesAdapter) NewStreamParser() StreamParser {
	return &responsesStreamParser{callIndex: map[string]int{}}
}

// responsesStreamParser translates a Responses API SSE stream. Function
// calls are announced by output_item.added carrying call id and name;
// argument deltas follow keyed by item id.
type responsesStreamParser struct {
	started      bool
	ended        bool
	callIndex    map[string]int
	nextCall     int
	finishReason ir.FinishReason
	usage        *ir.Usage
}

func (p *responsesStreamParser) Parse(evt SSEEvent) ([]ir.StreamEvent, error) {
	var ev openairesponses.StreamEvent
	if err := json.Unmarshal(evt.Data, &ev); err != nil {
		return nil, fmt.Errorf("invalid openai-responses stream event: %w", err)
	}
	switch ev.Type {
	case openairesponses.StreamEventCreated:
		p.started = true
		var id, model string
		if ev.Response != nil {
			id = ev.Response.ID
			model = ev.Response.Model
		}
		return []ir.StreamEvent{ir.StartEvent(id, model)}, nil

	case openairesponses.StreamEventOutputItemAdded:
		if ev.Item == nil || ev.Item.Type != openairesponses.ItemTypeFunctionCall {
			return nil, nil
		}
		idx := p.nextCall
		p.nextCall++
		p.callIndex[ev.Item.ID] = idx
		p.finishReason = ir.FinishToolCalls
		return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
			Index: idx,
			ID:    ev.Item.CallID,
			Name:  ev.Item.Name,
		}}}, nil

	case openairesponses.StreamEventOutputTextDelta:
		return []ir.StreamEvent{ir.ContentEvent(0, ev.Delta)}, nil

	case openairesponses.StreamEventReasoningDelta:
		return []ir.StreamEvent{ir.ReasoningEvent(ev.Delta)}, nil

	case openairesponses.StreamEventFunctionArgsDelta:
		idx, ok := p.callIndex[ev.ItemID]
		if !ok {
			return nil, fmt.Errorf("openai-responses stream: arguments delta for unknown item %s", ev.ItemID)
		}
		return []ir.StreamEvent{{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{
			Index:          idx,
			ArgumentsDelta: ev.Delta,
		}}}, nil

	case openairesponses.StreamEventCompleted:
		if ev.Response != nil {
			if ev.Response.Usage != nil {
				p.usage = &ir.Usage{
					PromptTokens:     uint32(ev.Response.Usage.InputTokens),  //nolint:gosec
					CompletionTokens: uint32(ev.Response.Usage.OutputTokens), //nolint:gosec
					TotalTokens:      uint32(ev.Response.Usage.TotalTokens),  //nolint:gosec
				}
			}
			if ev.Response.Status == openairesponses.StatusIncomplete &&
				ev.Response.IncompleteDetails != nil &&
				ev.Response.IncompleteDetails.Reason == "max_output_tokens" {
				p.finishReason = ir.FinishLength
			}
		}
		return p.End(), nil

	case openairesponses.StreamEventFailed, openairesponses.StreamEventError:
		e := &ir.Error{Kind: ir.ErrorKindAPI, Code: ev.Code, Message: ev.Message}
		if e.Message == "" && ev.Response != nil && ev.Response.Error != nil {
			e.Code = ev.Response.Error.Code
			e.Message = ev.Response.Error.Message
		}
		return []ir.StreamEvent{ir.ErrorEvent(e)}, nil

	default:
		// in_progress, *.done, and future event kinds carry no deltas.
		return nil, nil
	}
}

func (p *responsesStreamParser) End() []ir.StreamEvent {
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

func (r responsesAdapter) NewStreamBuilder() StreamBuilder {
	return &responsesStreamBuilder{}
}

// responsesStreamBuilder frames canonical events as Responses API SSE with
// event-prefixed framing. It reconstructs the item envelope: a message
// item for text, one function_call item per tool call, and a final
// response.completed carrying the assembled output and usage.
type responsesStreamBuilder struct {
	id          string
	model       string
	created     int64
	seq         int64
	outputIndex int
	textOpen    bool
	text        string
	messageID   string
	calls       []*responsesBuilderCall
	callByIndex map[int]*responsesBuilderCall
	reasoning   string
}

type responsesBuilderCall struct {
	itemID string
	callID string
	name   string
	args   string
}

func (b *responsesStreamBuilder) event(eventType string, ev *openairesponses.StreamEvent) (Frame, error) {
	b.seq++
	ev.Type = eventType
	ev.SequenceNumber = b.seq
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return Frame{Event: eventType, Data: data}, nil
}

func (b *responsesStreamBuilder) response(status string) *openairesponses.Response {
	return &openairesponses.Response{
		ID:        b.id,
		Object:    "response",
		CreatedAt: b.created,
		Model:     b.model,
		Status:    status,
		Output:    []openairesponses.Item{},
	}
}

func (b *responsesStreamBuilder) Next(ev ir.StreamEvent) ([]Frame, error) {
	switch ev.Type {
	case ir.StreamStart:
		b.id = ev.ID
		if b.id == "" {
			b.id = "resp_" + uuid.NewString()
		}
		b.model = ev.Model
		b.created = time.Now().Unix()
		b.callByIndex = map[int]*responsesBuilderCall{}
		f, err := b.event(openairesponses.StreamEventCreated, &openairesponses.StreamEvent{
			Response: b.response(openairesponses.StatusInProgress),
		})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamContent:
		var frames []Frame
		if !b.textOpen {
			b.textOpen = true
			b.messageID = "msg_" + uuid.NewString()
			f, err := b.event(openairesponses.StreamEventOutputItemAdded, &openairesponses.StreamEvent{
				OutputIndex: b.outputIndex,
				Item: &openairesponses.Item{
					Type:   openairesponses.ItemTypeMessage,
					ID:     b.messageID,
					Role:   "assistant",
					Status: openairesponses.StatusInProgress,
				},
			})
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
			b.outputIndex++
		}
		b.text += ev.Delta
		f, err := b.event(openairesponses.StreamEventOutputTextDelta, &openairesponses.StreamEvent{
			ItemID: b.messageID,
			Delta:  ev.Delta,
		})
		if err != nil {
			return nil, err
		}
		return append(frames, f), nil

	case ir.StreamReasoning:
		b.reasoning += ev.Delta
		f, err := b.event(openairesponses.StreamEventReasoningDelta, &openairesponses.StreamEvent{
			Delta: ev.Delta,
		})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamToolCall:
		tc := ev.ToolCall
		var frames []Frame
		call, ok := b.callByIndex[tc.Index]
		if !ok {
			call = &responsesBuilderCall{itemID: "fc_" + uuid.NewString(), callID: tc.ID, name: tc.Name}
			if call.callID == "" {
				call.callID = "call_" + uuid.NewString()
			}
			b.callByIndex[tc.Index] = call
			b.calls = append(b.calls, call)
			f, err := b.event(openairesponses.StreamEventOutputItemAdded, &openairesponses.StreamEvent{
				OutputIndex: b.outputIndex,
				Item: &openairesponses.Item{
					Type:   openairesponses.ItemTypeFunctionCall,
					ID:     call.itemID,
					CallID: call.callID,
					Name:   call.name,
					Status: openairesponses.StatusInProgress,
				},
			})
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
			b.outputIndex++
		}
		if tc.ArgumentsDelta != "" {
			call.args += tc.ArgumentsDelta
			f, err := b.event(openairesponses.StreamEventFunctionArgsDelta, &openairesponses.StreamEvent{
				ItemID: call.itemID,
				Delta:  tc.ArgumentsDelta,
			})
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
		return frames, nil

	case ir.StreamEnd:
		resp := b.response(openairesponses.StatusCompleted)
		if b.reasoning != "" {
			resp.Output = append(resp.Output, openairesponses.Item{
				Type:    openairesponses.ItemTypeReasoning,
				Summary: []openairesponses.SummaryPart{{Type: "summary_text", Text: b.reasoning}},
			})
		}
		if b.textOpen {
			resp.Output = append(resp.Output, openairesponses.Item{
				Type:   openairesponses.ItemTypeMessage,
				ID:     b.messageID,
				Role:   "assistant",
				Status: openairesponses.StatusCompleted,
				Content: openairesponses.ContentUnion{Parts: []openairesponses.ContentPart{{
					Type: openairesponses.ContentPartTypeOutputText,
					Text: b.text,
				}}},
			})
		}
		for _, call := range b.calls {
			resp.Output = append(resp.Output, openairesponses.Item{
				Type:      openairesponses.ItemTypeFunctionCall,
				ID:        call.itemID,
				CallID:    call.callID,
				Name:      call.name,
				Arguments: call.args,
				Status:    openairesponses.StatusCompleted,
			})
		}
		if ev.Usage != nil {
			resp.Usage = &openairesponses.Usage{
				InputTokens:  int64(ev.Usage.PromptTokens),
				OutputTokens: int64(ev.Usage.CompletionTokens),
				TotalTokens:  int64(ev.Usage.TotalTokens),
			}
		}
		if ev.FinishReason == ir.FinishLength {
			resp.Status = openairesponses.StatusIncomplete
			resp.IncompleteDetails = &openairesponses.IncompleteDetails{Reason: "max_output_tokens"}
		}
		f, err := b.event(openairesponses.StreamEventCompleted, &openairesponses.StreamEvent{Response: resp})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	case ir.StreamError:
		f, err := b.event(openairesponses.StreamEventError, &openairesponses.StreamEvent{
			Code:    ev.Err.Code,
			Message: ev.Err.Message,
		})
		if err != nil {
			return nil, err
		}
		return []Frame{f}, nil

	default:
		return nil, nil
	}
}
