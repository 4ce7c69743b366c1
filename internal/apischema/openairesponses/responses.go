// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package openairesponses declares the wire types of the OpenAI Responses
// API, the successor surface to Chat Completions. Only the chat-shaped
// subset is modeled; stateful features (previous_response_id retrieval,
// background mode) are passed through untouched.
package openairesponses

import (
	"encoding/json"

	"github.com/isboyjc/amux/internal/apischema/openai"
)

// Request represents a request to /v1/responses.
// https://platform.openai.com/docs/api-reference/responses/create
type Request struct {
	Model string `json:"model"`

	// Input is a plain string or an array of input items.
	Input InputUnion `json:"input"`

	// Instructions is the system/developer prompt.
	Instructions string `json:"instructions,omitempty"`

	Stream bool `json:"stream,omitempty"`

	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens *int64   `json:"max_output_tokens,omitempty"`

	// Tools is flattened relative to Chat Completions: the function
	// declaration sits directly on the tool object.
	// https://platform.openai.com/docs/api-reference/responses/create#responses-create-tools
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice is "auto"|"none"|"required" or a named-function object.
	ToolChoice *openai.ToolChoiceUnion `json:"tool_choice,omitempty"`

	// Reasoning configures o-series reasoning output.
	Reasoning *Reasoning `json:"reasoning,omitempty"`

	// Text configures the output format.
	Text *TextConfig `json:"text,omitempty"`

	User string `json:"user,omitempty"`
}

// Reasoning is the reasoning configuration.
// https://platform.openai.com/docs/api-reference/responses/create#responses-create-reasoning
type Reasoning struct {
	Effort string `json:"effort,omitempty"`
	// Summary requests a reasoning summary: auto, concise, or detailed.
	Summary string `json:"summary,omitempty"`
}

// TextConfig selects the response text format.
type TextConfig struct {
	Format *TextFormat `json:"format,omitempty"`
}

// TextFormat is text, json_object, or json_schema with inline schema.
type TextFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// Tool is a flattened function declaration.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// InputUnion is a string or an array of input items.
type InputUnion struct {
	Text  string
	Items []Item
}

func (i *InputUnion) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &i.Items)
	}
	return json.Unmarshal(data, &i.Text)
}

func (i InputUnion) MarshalJSON() ([]byte, error) {
	if i.Items != nil {
		return json.Marshal(i.Items)
	}
	return json.Marshal(i.Text)
}

// Item types appearing in input and output arrays.
// https://platform.openai.com/docs/api-reference/responses/object#responses/object-output
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
	ItemTypeReasoning          = "reasoning"
)

// Item is one element of the input or output array. The fields matching
// Type are set.
type Item struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`

	// Role and Content are set for message items.
	Role    string       `json:"role,omitempty"`
	Content ContentUnion `json:"content,omitzero"`

	// Status is set on output items: in_progress, completed, incomplete.
	Status string `json:"status,omitempty"`

	// CallID, Name, Arguments are set for function_call items; CallID and
	// Output for function_call_output items.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`

	// Summary is set for reasoning items.
	Summary []SummaryPart `json:"summary,omitempty"`
}

// SummaryPart is one reasoning summary fragment.
type SummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentUnion is a string or an array of content parts.
type ContentUnion struct {
	Text  string
	Parts []ContentPart
}

// IsZero reports whether no content was set, for use with omitzero.
func (c ContentUnion) IsZero() bool { return c.Text == "" && c.Parts == nil }

func (c *ContentUnion) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	return json.Unmarshal(data, &c.Text)
}

func (c ContentUnion) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// Content part types.
const (
	ContentPartTypeInputText  = "input_text"
	ContentPartTypeInputImage = "input_image"
	ContentPartTypeOutputText = "output_text"
)

// ContentPart is one typed content fragment.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ImageURL is a URL or data URI, set for input_image.
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Response represents a /v1/responses response object.
// https://platform.openai.com/docs/api-reference/responses/object
type Response struct {
	ID        string  `json:"id"`
	Object    string  `json:"object"`
	CreatedAt int64   `json:"created_at"`
	Model     string  `json:"model"`
	Status    string  `json:"status"`
	Output    []Item  `json:"output"`
	Usage     *Usage  `json:"usage,omitempty"`
	Error     *Error  `json:"error,omitempty"`
	// IncompleteDetails is set when Status is incomplete.
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
}

// Response statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// IncompleteDetails explains an incomplete response.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// Usage is the Responses token accounting block. Field names differ from
// Chat Completions (input/output rather than prompt/completion).
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Stream event types, a subset of the full surface sufficient for chat.
// https://platform.openai.com/docs/api-reference/responses-streaming
const (
	StreamEventCreated           = "response.created"
	StreamEventInProgress        = "response.in_progress"
	StreamEventOutputItemAdded   = "response.output_item.added"
	StreamEventOutputTextDelta   = "response.output_text.delta"
	StreamEventOutputTextDone    = "response.output_text.done"
	StreamEventFunctionArgsDelta = "response.function_call_arguments.delta"
	StreamEventFunctionArgsDone  = "response.function_call_arguments.done"
	StreamEventReasoningDelta    = "response.reasoning_summary_text.delta"
	StreamEventOutputItemDone    = "response.output_item.done"
	StreamEventCompleted         = "response.completed"
	StreamEventFailed            = "response.failed"
	StreamEventError             = "error"
)

// StreamEvent is the decoded form of one SSE data payload.
type StreamEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`

	// Response is set on response.created/completed/failed.
	Response *Response `json:"response,omitempty"`

	// Item and OutputIndex are set on output_item events.
	Item        *Item `json:"item,omitempty"`
	OutputIndex int   `json:"output_index,omitempty"`

	// ItemID, ContentIndex, Delta are set on delta events.
	ItemID       string `json:"item_id,omitempty"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta,omitempty"`

	// Text/Arguments are set on the corresponding done events.
	Text      string `json:"text,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Error fields, set on error events.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error is an inline response error.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
