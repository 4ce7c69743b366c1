// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package openai declares the wire types of the OpenAI Chat Completions
// API. The OpenAI-compatible dialects (DeepSeek, Moonshot, Qwen, Zhipu)
// reuse these types plus the vendor extension fields declared inline.
package openai

import (
	"encoding/json"
	"fmt"
)

// ChatMessageRole values.
// https://platform.openai.com/docs/api-reference/chat/create#chat-create-messages
const (
	ChatMessageRoleSystem    = "system"
	ChatMessageRoleDeveloper = "developer"
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleTool      = "tool"
)

// ChatCompletionRequest represents a request to /v1/chat/completions.
// https://platform.openai.com/docs/api-reference/chat/create
type ChatCompletionRequest struct {
	// Model is the model id to use.
	Model string `json:"model"`

	// Messages is the conversation so far.
	Messages []ChatCompletionMessage `json:"messages"`

	// Stream requests an SSE response.
	Stream bool `json:"stream,omitempty"`

	// StreamOptions configures streaming behavior.
	// https://platform.openai.com/docs/api-reference/chat/create#chat-create-stream_options
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	// MaxTokens is deprecated in favor of MaxCompletionTokens but still
	// widely sent by clients.
	MaxTokens           *int64 `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int64 `json:"max_completion_tokens,omitempty"`

	// Stop is a string or an array of up to four strings.
	Stop StringOrArray `json:"stop,omitzero"`

	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`

	Logprobs    *bool  `json:"logprobs,omitempty"`
	TopLogprobs *int64 `json:"top_logprobs,omitempty"`

	// ResponseFormat selects text, json_object, or json_schema output.
	// https://platform.openai.com/docs/api-reference/chat/create#chat-create-response_format
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// ReasoningEffort is the o-series effort hint: low, medium, or high.
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// Tools the model may call.
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice is "auto"|"none"|"required" or a named-function object.
	ToolChoice *ToolChoiceUnion `json:"tool_choice,omitempty"`

	// WebSearchOptions enables the built-in web search tool where the
	// provider supports it.
	WebSearchOptions *WebSearchOptions `json:"web_search_options,omitempty"`

	User string `json:"user,omitempty"`

	// EnableThinking is Qwen's thinking-mode toggle (DashScope
	// compatible mode only).
	EnableThinking *bool `json:"enable_thinking,omitempty"`

	// DoSample is Zhipu's sampling toggle.
	DoSample *bool `json:"do_sample,omitempty"`
}

// StreamOptions configures streaming responses.
type StreamOptions struct {
	// IncludeUsage asks for a final usage-bearing chunk.
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionMessage is one conversation turn on the wire.
type ChatCompletionMessage struct {
	Role string `json:"role"`

	// Content is a string or an array of content parts.
	Content ContentUnion `json:"content"`

	// Name is the optional participant name.
	Name string `json:"name,omitempty"`

	// ToolCalls is set on assistant messages that invoked tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool-role message with the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningContent is DeepSeek's thinking text on assistant turns.
	// https://api-docs.deepseek.com/guides/reasoning_model
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ContentUnion is a message content value: either a plain string or an
// array of typed parts. Exactly one of Text / Parts is meaningful; Parts
// wins when non-nil.
type ContentUnion struct {
	Text  string
	Parts []ContentPart
}

// IsParts reports whether the union holds array content.
func (c ContentUnion) IsParts() bool { return c.Parts != nil }

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
// https://platform.openai.com/docs/api-reference/chat/create#chat-create-messages
const (
	ContentPartTypeText     = "text"
	ContentPartTypeImageURL = "image_url"
	// ContentPartTypeInputAudio and ContentPartTypeVideoURL are Qwen
	// multimodal extensions of the OpenAI-compatible mode.
	// https://help.aliyun.com/zh/model-studio/qwen-omni
	ContentPartTypeInputAudio = "input_audio"
	ContentPartTypeVideoURL   = "video_url"
)

// ContentPart is one typed element of array content.
type ContentPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ImageURL   *ImageURL       `json:"image_url,omitempty"`
	InputAudio *InputAudio     `json:"input_audio,omitempty"`
	VideoURL   *VideoURL       `json:"video_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL string `json:"url"`
	// Detail is low, high, or auto.
	Detail string `json:"detail,omitempty"`
}

// InputAudio carries inline base64 audio.
type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
}

// VideoURL references a video by URL.
type VideoURL struct {
	URL string `json:"url"`
}

// Tool declares one callable function.
type Tool struct {
	Type     string        `json:"type"`
	Function *ToolFunction `json:"function,omitempty"`
}

// ToolFunction is the function declaration inside a Tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// ToolChoiceUnion is "auto"|"none"|"required" or
// {"type":"function","function":{"name":...}}.
type ToolChoiceUnion struct {
	Mode string
	// Function is set when Mode is empty and a specific function was named.
	Function string
}

func (t *ToolChoiceUnion) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Mode)
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("cannot unmarshal tool_choice: %w", err)
	}
	t.Function = obj.Function.Name
	return nil
}

func (t ToolChoiceUnion) MarshalJSON() ([]byte, error) {
	if t.Function != "" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.Function},
		})
	}
	return json.Marshal(t.Mode)
}

// ToolCall is one complete tool invocation on an assistant message.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and carries its JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResponseFormat selects the output container.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the schema payload of a json_schema response format.
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// WebSearchOptions enables web search grounding.
// https://platform.openai.com/docs/api-reference/chat/create#chat-create-web_search_options
type WebSearchOptions struct {
	SearchContextSize string `json:"search_context_size,omitempty"`
}

// StringOrArray is a JSON value that may be a single string or an array
// of strings, e.g. the `stop` parameter.
type StringOrArray struct {
	Values []string
}

// IsZero reports whether no value was set, for use with omitzero.
func (s StringOrArray) IsZero() bool { return s.Values == nil }

func (s *StringOrArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Values)
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("cannot unmarshal string-or-array: %w", err)
	}
	s.Values = []string{one}
	return nil
}

func (s StringOrArray) MarshalJSON() ([]byte, error) {
	if len(s.Values) == 1 {
		return json.Marshal(s.Values[0])
	}
	return json.Marshal(s.Values)
}

// ChatCompletionResponse represents a non-streaming response.
// https://platform.openai.com/docs/api-reference/chat/object
type ChatCompletionResponse struct {
	ID                string                         `json:"id"`
	Object            string                         `json:"object"`
	Created           int64                          `json:"created"`
	Model             string                         `json:"model"`
	Choices           []ChatCompletionResponseChoice `json:"choices"`
	Usage             *Usage                         `json:"usage,omitempty"`
	SystemFingerprint string                         `json:"system_fingerprint,omitempty"`
}

// ChatCompletionResponseChoice is one generated alternative.
type ChatCompletionResponseChoice struct {
	Index        int                            `json:"index"`
	Message      ChatCompletionResponseMessage  `json:"message"`
	FinishReason string                         `json:"finish_reason"`
}

// ChatCompletionResponseMessage is the generated assistant turn.
type ChatCompletionResponseMessage struct {
	Role             string     `json:"role"`
	Content          *string    `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// Finish reasons.
// https://platform.openai.com/docs/api-reference/chat/object#chat/object-choices
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// Usage is the token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponseChunk is one streaming chunk.
// https://platform.openai.com/docs/api-reference/chat/streaming
type ChatCompletionResponseChunk struct {
	ID                string                              `json:"id,omitempty"`
	Object            string                              `json:"object"`
	Created           int64                               `json:"created,omitempty"`
	Model             string                              `json:"model,omitempty"`
	Choices           []ChatCompletionResponseChunkChoice `json:"choices"`
	Usage             *Usage                              `json:"usage,omitempty"`
	SystemFingerprint string                              `json:"system_fingerprint,omitempty"`
}

// ChatCompletionResponseChunkChoice is one choice delta in a chunk.
type ChatCompletionResponseChunkChoice struct {
	Index        int                    `json:"index"`
	Delta        ChatCompletionDelta    `json:"delta"`
	FinishReason string                 `json:"finish_reason,omitempty"`
}

// ChatCompletionDelta is the incremental message fragment in a chunk.
type ChatCompletionDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          *string         `json:"content,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
}

// ToolCallDelta is one incremental tool-call fragment.
type ToolCallDelta struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ErrorResponse is the OpenAI error envelope.
// https://platform.openai.com/docs/guides/error-codes
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error body inside the envelope.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type,omitempty"`
	Param   *string `json:"param,omitempty"`
	Code    string  `json:"code,omitempty"`
}
