// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package ir declares the canonical intermediate representation carried
// between an inbound and an outbound adapter. Every dialect parses into
// these types and builds out of them, so any two adapters compose.
package ir

import "encoding/json"

// Role is the canonical speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Request is the canonical chat request.
type Request struct {
	// Model is the requested model id, after any mapping applied upstream
	// of the bridge.
	Model string `json:"model"`
	// System is the lifted system prompt. Inbound adapters concatenate
	// leading system messages here (newline-joined); outbound adapters
	// re-insert it in whatever place the dialect expects.
	System string `json:"system,omitempty"`
	// Messages in conversation order. System messages are not present
	// here; see System.
	Messages []Message `json:"messages"`
	// Tools the model may call. Function-shaped only.
	Tools []Tool `json:"tools,omitempty"`
	// ToolChoice constrains tool selection when set.
	ToolChoice *ToolChoice `json:"toolChoice,omitempty"`
	// Stream requests an SSE response.
	Stream bool `json:"stream"`
	// Generation carries the sampling and output controls.
	Generation GenerationParams `json:"generation"`
	// Extensions holds dialect-private options that survive a same-dialect
	// round trip but have no canonical meaning, e.g. Zhipu's do_sample.
	Extensions map[string]any `json:"extensions,omitempty"`
	// Raw is the original wire body, kept for debugging and for
	// pass-through paths that rewrite single fields in place.
	Raw json.RawMessage `json:"-"`
}

// Message is one conversation turn. Content is always part-based; a plain
// wire string becomes a single text part.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
	// Name is the optional participant name (OpenAI `name`).
	Name string `json:"name,omitempty"`
	// ReasoningContent is assistant-visible thinking text carried by
	// reasoning dialects (DeepSeek `reasoning_content`, Anthropic
	// `thinking` blocks) on prior assistant turns.
	ReasoningContent string `json:"reasoningContent,omitempty"`
}

// PartType tags a ContentPart.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartAudio      PartType = "audio"
	PartVideo      PartType = "video"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ContentPart is one typed fragment of a message. Exactly the field named
// by Type is set.
type ContentPart struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	Image      *MediaRef   `json:"image,omitempty"`
	Audio      *MediaRef   `json:"audio,omitempty"`
	Video      *MediaRef   `json:"video,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// MediaRefKind distinguishes inline payloads from fetchable URLs.
type MediaRefKind string

const (
	MediaBase64 MediaRefKind = "base64"
	MediaURL    MediaRefKind = "url"
)

// MediaRef points at one piece of media, either inline base64 or a URL.
type MediaRef struct {
	Kind MediaRefKind `json:"kind"`
	// MediaType is the MIME type, set for base64 payloads ("image/png").
	MediaType string `json:"mediaType,omitempty"`
	// Data is the raw base64 payload without the data: prefix.
	Data string `json:"data,omitempty"`
	// URL is set for url-kind references.
	URL string `json:"url,omitempty"`
}

// ToolUse is a tool invocation requested by the assistant.
type ToolUse struct {
	// ID correlates the later tool result.
	ID string `json:"id"`
	// Name of the function to call.
	Name string `json:"name"`
	// Arguments is the raw JSON argument object.
	Arguments string `json:"arguments"`
}

// ToolResult carries the output of a tool invocation back to the model.
type ToolResult struct {
	// ToolUseID correlates the originating ToolUse.
	ToolUseID string `json:"toolUseId"`
	// Content is the textual result.
	Content string `json:"content"`
	// IsError marks a failed invocation.
	IsError bool `json:"isError,omitempty"`
}

// Tool declares one callable function with JSON-schema parameters.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoiceMode is the canonical tool-selection policy.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice constrains which tool the model may call. FunctionName is set
// only for ToolChoiceFunction.
type ToolChoice struct {
	Mode         ToolChoiceMode `json:"mode"`
	FunctionName string         `json:"functionName,omitempty"`
}

// ResponseFormatType selects the output container the caller asked for.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat is the canonical response_format request.
type ResponseFormat struct {
	Type ResponseFormatType `json:"type"`
	// SchemaName and Schema are set for json_schema.
	SchemaName string         `json:"schemaName,omitempty"`
	Schema     map[string]any `json:"schema,omitempty"`
	// Strict requests strict schema adherence where the dialect supports it.
	Strict bool `json:"strict,omitempty"`
}

// Reasoning is the canonical thinking/reasoning request. Dialects express
// this differently: OpenAI `reasoning_effort`, Anthropic `thinking` with a
// token budget, Qwen `enable_thinking`.
type Reasoning struct {
	Enabled bool `json:"enabled"`
	// Effort is the OpenAI-style effort hint (low|medium|high), empty when
	// the dialect only toggles.
	Effort string `json:"effort,omitempty"`
	// BudgetTokens is the Anthropic-style thinking budget.
	BudgetTokens *int64 `json:"budgetTokens,omitempty"`
}

// GenerationParams carries the sampling and output controls every dialect
// shares. Fields are pointers when absence differs from zero.
type GenerationParams struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	MaxTokens        *int64          `json:"maxTokens,omitempty"`
	StopSequences    []string        `json:"stopSequences,omitempty"`
	PresencePenalty  *float64        `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequencyPenalty,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	Logprobs         *bool           `json:"logprobs,omitempty"`
	TopLogprobs      *int64          `json:"topLogprobs,omitempty"`
	ResponseFormat   *ResponseFormat `json:"responseFormat,omitempty"`
	Reasoning        *Reasoning      `json:"reasoning,omitempty"`
	// WebSearch asks the provider to ground on web results where supported.
	WebSearch bool `json:"webSearch,omitempty"`
}

// TextPart returns a text content part.
func TextPart(s string) ContentPart {
	return ContentPart{Type: PartText, Text: s}
}

// ImageURLPart returns an image part referencing a fetchable URL.
func ImageURLPart(url string) ContentPart {
	return ContentPart{Type: PartImage, Image: &MediaRef{Kind: MediaURL, URL: url}}
}

// ImageBase64Part returns an inline base64 image part.
func ImageBase64Part(mediaType, data string) ContentPart {
	return ContentPart{Type: PartImage, Image: &MediaRef{Kind: MediaBase64, MediaType: mediaType, Data: data}}
}

// ToolUsePart returns an assistant tool invocation part.
func ToolUsePart(id, name, arguments string) ContentPart {
	return ContentPart{Type: PartToolUse, ToolUse: &ToolUse{ID: id, Name: name, Arguments: arguments}}
}

// ToolResultPart returns a tool result part.
func ToolResultPart(toolUseID, content string, isError bool) ContentPart {
	return ContentPart{Type: PartToolResult, ToolResult: &ToolResult{ToolUseID: toolUseID, Content: content, IsError: isError}}
}

// JoinText concatenates the text parts of a message, ignoring other kinds.
func JoinText(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}
