// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package ir

import "encoding/json"

// FinishReason is the canonical termination cause of one choice. Unknown
// upstream reasons collapse to FinishStop.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage is the canonical token accounting, carried to the log and metric
// sinks independent of dialect.
type Usage struct {
	PromptTokens     uint32 `json:"promptTokens"`
	CompletionTokens uint32 `json:"completionTokens"`
	TotalTokens      uint32 `json:"totalTokens"`
}

// IsZero reports whether no token counts were observed.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Response is the canonical non-streaming chat response.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	// Created is seconds since the Unix epoch, zero when the dialect does
	// not report it.
	Created           int64  `json:"created,omitempty"`
	SystemFingerprint string `json:"systemFingerprint,omitempty"`
	Usage             Usage  `json:"usage"`
	// Raw is the original upstream body, kept for pass-through forwarding
	// and debugging.
	Raw json.RawMessage `json:"-"`
}

// Choice is one generated alternative.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason FinishReason     `json:"finishReason"`
}

// AssistantMessage is the generated turn of one choice.
type AssistantMessage struct {
	Content []ContentPart `json:"content"`
	// ToolCalls requested by the model, in emission order.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ReasoningContent is the thinking text for reasoning dialects.
	ReasoningContent string `json:"reasoningContent,omitempty"`
}

// Text returns the concatenated text content of the message.
func (m AssistantMessage) Text() string {
	return JoinText(m.Content)
}

// ToolCall is one complete tool invocation in a non-streaming response.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw JSON argument object.
	Arguments string `json:"arguments"`
}
