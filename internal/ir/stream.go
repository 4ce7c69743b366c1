// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package ir

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	// StreamStart opens a stream. Exactly one per stream, always first.
	StreamStart StreamEventType = "start"
	// StreamContent carries a text delta for one choice.
	StreamContent StreamEventType = "content"
	// StreamReasoning carries a thinking-text delta.
	StreamReasoning StreamEventType = "reasoning"
	// StreamToolCall carries an incremental tool invocation.
	StreamToolCall StreamEventType = "toolCall"
	// StreamEnd closes a stream. Exactly one per stream on normal
	// completion, always last.
	StreamEnd StreamEventType = "end"
	// StreamError reports a mid-stream failure; the stream is dead after it.
	StreamError StreamEventType = "error"
)

// StreamEvent is the canonical streaming unit. Only the fields meaningful
// for Type are set.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// ID and Model are set on start.
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`

	// Index is the choice index for content and reasoning deltas.
	Index int `json:"index,omitempty"`
	// Delta is the text fragment for content and reasoning events.
	Delta string `json:"delta,omitempty"`

	// ToolCall is set on toolCall events.
	ToolCall *ToolCallDelta `json:"toolCall,omitempty"`

	// FinishReason and Usage are set on end. Usage is nil when the
	// upstream did not report it.
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	// Err is set on error events.
	Err *Error `json:"error,omitempty"`
}

// ToolCallDelta is one fragment of a streamed tool invocation. ID and Name
// arrive on the first fragment of a call; ArgumentsDelta accumulates.
type ToolCallDelta struct {
	// Index identifies the tool call within the response when several are
	// streamed concurrently.
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"argumentsDelta,omitempty"`
}

// StartEvent returns the opening event of a stream.
func StartEvent(id, model string) StreamEvent {
	return StreamEvent{Type: StreamStart, ID: id, Model: model}
}

// ContentEvent returns a text delta event for the given choice.
func ContentEvent(index int, delta string) StreamEvent {
	return StreamEvent{Type: StreamContent, Index: index, Delta: delta}
}

// ReasoningEvent returns a thinking delta event.
func ReasoningEvent(delta string) StreamEvent {
	return StreamEvent{Type: StreamReasoning, Delta: delta}
}

// EndEvent returns the closing event of a stream.
func EndEvent(reason FinishReason, usage *Usage) StreamEvent {
	return StreamEvent{Type: StreamEnd, FinishReason: reason, Usage: usage}
}

// ErrorEvent returns a mid-stream failure event.
func ErrorEvent(err *Error) StreamEvent {
	return StreamEvent{Type: StreamError, Err: err}
}
