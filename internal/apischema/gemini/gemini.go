// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package gemini declares the wire types of the Google Gemini
// generateContent API. Content, tool, and config shapes embed the types of
// google.golang.org/genai rather than redeclaring them.
package gemini

import "google.golang.org/genai"

// GenerateContentRequest represents a request to
// /v1beta/models/{model}:generateContent (and its streaming variant).
// https://ai.google.dev/api/generate-content#request-body
type GenerateContentRequest struct {
	// Model is not part of the upstream schema; the route engine injects
	// the URL-captured model name here so the body is self-describing,
	// and BuildRequest moves it back into the URL.
	Model string `json:"model,omitempty"`
	// Contents is the multipart conversation.
	//
	// https://github.com/googleapis/go-genai/blob/6a8184fcaf8bf15f0c566616a7b356560309be9b/types.go#L858
	Contents []genai.Content `json:"contents"`
	// Tools the model may use to generate a response.
	//
	// https://github.com/googleapis/go-genai/blob/6a8184fcaf8bf15f0c566616a7b356560309be9b/types.go#L1406
	Tools []genai.Tool `json:"tools,omitempty"`
	// Optional. Tool config, shared for all tools in the request.
	ToolConfig *genai.ToolConfig `json:"toolConfig,omitempty"`
	// Optional. Generation config.
	// https://ai.google.dev/api/generate-content#generationconfig
	GenerationConfig *genai.GenerationConfig `json:"generationConfig,omitempty"`
	// Optional. Steering instructions for the model.
	SystemInstruction *genai.Content `json:"systemInstruction,omitempty"`
	// Optional. Per-request safety settings.
	SafetySettings []genai.SafetySetting `json:"safetySettings,omitempty"`
}

// GenerateContentResponse is the upstream response shape, both for the
// unary call and for each streamed chunk.
//
// https://github.com/googleapis/go-genai/blob/6a8184fcaf8bf15f0c566616a7b356560309be9b/types.go#L2527
type GenerateContentResponse = genai.GenerateContentResponse

// Candidate is one generated alternative.
type Candidate = genai.Candidate

// UsageMetadata is the token accounting block.
type UsageMetadata = genai.GenerateContentResponseUsageMetadata

// Finish reasons re-exported for the mapping tables.
const (
	FinishReasonStop              = genai.FinishReasonStop
	FinishReasonMaxTokens         = genai.FinishReasonMaxTokens
	FinishReasonSafety            = genai.FinishReasonSafety
	FinishReasonRecitation        = genai.FinishReasonRecitation
	FinishReasonProhibitedContent = genai.FinishReasonProhibitedContent
)

// ErrorResponse is the Google API error envelope.
// https://cloud.google.com/apis/design/errors#http_mapping
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error body inside the envelope.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Status is the canonical google.rpc.Code name, e.g. INVALID_ARGUMENT.
	Status string `json:"status,omitempty"`
}
