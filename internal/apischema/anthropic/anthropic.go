// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package anthropic declares the wire types of the Anthropic Messages API.
// Stop reasons reuse the constants of the official SDK so the mapping
// tables stay in sync with upstream.
package anthropic

import (
	"encoding/json"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
)

// MessagesRequest represents a request to the Anthropic Messages API.
// https://docs.claude.com/en/api/messages
type MessagesRequest struct {
	// Model is the model to use for the request.
	Model string `json:"model,omitempty"`

	// Messages is the list of messages in the conversation.
	// https://docs.claude.com/en/api/messages#body-messages
	Messages []Message `json:"messages"`

	// MaxTokens is the maximum number of tokens to generate. Required by
	// the API.
	// https://docs.claude.com/en/api/messages#body-max-tokens
	MaxTokens int64 `json:"max_tokens"`

	// System is the system prompt, a string or an array of text blocks.
	// https://docs.claude.com/en/api/messages#body-system
	System *SystemPrompt `json:"system,omitempty"`

	// StopSequences is the list of custom stop sequences.
	StopSequences []string `json:"stop_sequences,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int64   `json:"top_k,omitempty"`

	// Thinking is the extended-thinking configuration.
	// https://docs.claude.com/en/api/messages#body-thinking
	Thinking *Thinking `json:"thinking,omitempty"`

	// ToolChoice indicates how the model should use the provided tools.
	// https://docs.claude.com/en/api/messages#body-tool-choice
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	// Tools is the list of tools the model may use.
	// https://docs.claude.com/en/api/messages#body-tools
	Tools []Tool `json:"tools,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream,omitempty"`

	// Metadata is the request metadata (user id).
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata describes the request originator.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemPrompt is a string or an array of text blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Blocks)
	}
	return json.Unmarshal(data, &s.Text)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.Blocks != nil {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// Joined returns the full prompt text, newline-joining block content.
func (s *SystemPrompt) Joined() string {
	if s == nil {
		return ""
	}
	if s.Blocks == nil {
		return s.Text
	}
	var out string
	for i, b := range s.Blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// Thinking is the extended-thinking configuration.
type Thinking struct {
	// Type is "enabled" or "disabled".
	Type string `json:"type"`
	// BudgetTokens is required when Type is "enabled".
	BudgetTokens *int64 `json:"budget_tokens,omitempty"`
}

// Message is a single conversation turn.
// https://docs.claude.com/en/api/messages#body-messages
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// Message roles.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// MessageContent is a string or an array of content blocks.
type MessageContent struct {
	Text   string         // Set iff this is string content.
	Blocks []ContentBlock // Set iff this is array content.
}

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &m.Blocks)
	}
	return json.Unmarshal(data, &m.Text)
}

func (m MessageContent) MarshalJSON() ([]byte, error) {
	if m.Blocks != nil {
		return json.Marshal(m.Blocks)
	}
	return json.Marshal(m.Text)
}

// Content block types.
// https://docs.claude.com/en/api/messages#body-messages-content
const (
	ContentBlockTypeText       = "text"
	ContentBlockTypeImage      = "image"
	ContentBlockTypeToolUse    = "tool_use"
	ContentBlockTypeToolResult = "tool_result"
	ContentBlockTypeThinking   = "thinking"
)

// ContentBlock is one typed element of array content. The field matching
// Type is set.
type ContentBlock struct {
	Type string `json:"type"`

	// Text is set for text and thinking blocks.
	Text string `json:"text,omitempty"`

	// Thinking and Signature are set for thinking blocks.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Source is set for image blocks.
	Source *ImageSource `json:"source,omitempty"`

	// ID, Name and Input are set for tool_use blocks.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content and IsError are set for tool_result blocks.
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   *ToolResultContent `json:"content,omitempty"`
	IsError   bool               `json:"is_error,omitempty"`
}

// ImageSource is the payload of an image block: inline base64 or a URL.
// https://docs.claude.com/en/api/messages#body-messages-content
type ImageSource struct {
	// Type is "base64" or "url".
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ToolResultContent is a string or an array of blocks.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
}

func (t *ToolResultContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &t.Blocks)
	}
	return json.Unmarshal(data, &t.Text)
}

func (t ToolResultContent) MarshalJSON() ([]byte, error) {
	if t.Blocks != nil {
		return json.Marshal(t.Blocks)
	}
	return json.Marshal(t.Text)
}

// Joined returns the result text, newline-joining block content.
func (t *ToolResultContent) Joined() string {
	if t == nil {
		return ""
	}
	if t.Blocks == nil {
		return t.Text
	}
	var out string
	for i, b := range t.Blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// Tool is one tool declaration.
// https://docs.claude.com/en/api/messages#body-tools
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolChoice indicates how the model should use tools.
// https://docs.claude.com/en/api/messages#body-tool-choice
type ToolChoice struct {
	// Type is "auto", "any", "none", or "tool".
	Type string `json:"type"`
	// Name is set when Type is "tool".
	Name string `json:"name,omitempty"`
}

// Tool choice types.
const (
	ToolChoiceTypeAuto = "auto"
	ToolChoiceTypeAny  = "any"
	ToolChoiceTypeNone = "none"
	ToolChoiceTypeTool = "tool"
)

// StopReason is re-exported from the SDK so callers share one constant set.
type StopReason = anthropicsdk.StopReason

// Stop reasons observed on messages and message_delta events.
const (
	StopReasonEndTurn      = anthropicsdk.StopReasonEndTurn
	StopReasonMaxTokens    = anthropicsdk.StopReasonMaxTokens
	StopReasonStopSequence = anthropicsdk.StopReasonStopSequence
	StopReasonToolUse      = anthropicsdk.StopReasonToolUse
	StopReasonRefusal      = anthropicsdk.StopReasonRefusal
)

// MessagesResponse represents a non-streaming Messages API response.
// https://docs.claude.com/en/api/messages#response
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Usage is the Anthropic token accounting block.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Stream event types, in the order a well-formed stream emits them.
// https://docs.claude.com/en/docs/build-with-claude/streaming
const (
	StreamEventMessageStart      = "message_start"
	StreamEventContentBlockStart = "content_block_start"
	StreamEventContentBlockDelta = "content_block_delta"
	StreamEventContentBlockStop  = "content_block_stop"
	StreamEventMessageDelta      = "message_delta"
	StreamEventMessageStop       = "message_stop"
	StreamEventPing              = "ping"
	StreamEventError             = "error"
)

// Delta types inside content_block_delta events.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
	DeltaTypeThinking  = "thinking_delta"
	DeltaTypeSignature = "signature_delta"
)

// StreamEvent is the decoded form of one SSE data payload. Only the
// fields for Type are set.
type StreamEvent struct {
	Type string `json:"type"`

	// Message is set on message_start.
	Message *MessagesResponse `json:"message,omitempty"`

	// Index is set on content_block_* events.
	Index int `json:"index,omitempty"`

	// ContentBlock is set on content_block_start.
	ContentBlock *ContentBlock `json:"content_block,omitempty"`

	// Delta is set on content_block_delta and message_delta.
	Delta *StreamDelta `json:"delta,omitempty"`

	// Usage is set on message_delta.
	Usage *Usage `json:"usage,omitempty"`

	// Error is set on error events.
	Error *ErrorDetail `json:"error,omitempty"`
}

// StreamDelta is the delta payload of a stream event.
type StreamDelta struct {
	Type string `json:"type,omitempty"`

	// Text is set for text_delta.
	Text string `json:"text,omitempty"`

	// PartialJSON is set for input_json_delta.
	PartialJSON string `json:"partial_json,omitempty"`

	// Thinking and Signature are set for thinking_delta/signature_delta.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// StopReason and StopSequence are set on message_delta.
	StopReason   StopReason `json:"stop_reason,omitempty"`
	StopSequence *string    `json:"stop_sequence,omitempty"`
}

// ParseStreamEvent decodes one SSE data payload, sniffing the event type
// before committing to a full unmarshal.
func ParseStreamEvent(data []byte) (*StreamEvent, error) {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("anthropic stream event has no type: %s", data)
	}
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("cannot unmarshal %s event: %w", typ.String(), err)
	}
	return &ev, nil
}

// ErrorResponse is the Anthropic error envelope.
// https://docs.claude.com/en/api/errors
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error body inside the envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error types returned by the API.
// https://docs.claude.com/en/api/errors
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypePermission     = "permission_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
)
