// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/isboyjc/amux/internal/ir"
)

func TestGoogleParseRequest(t *testing.T) {
	a, _ := ForName(NameGoogle)

	t.Run("system instruction and contents", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gemini-2.0-flash",
			"systemInstruction": {"parts": [{"text": "be brief"}]},
			"contents": [
				{"role": "user", "parts": [{"text": "hello"}]},
				{"role": "model", "parts": [{"text": "hi there"}]}
			],
			"generationConfig": {"temperature": 0.5, "maxOutputTokens": 256, "stopSequences": ["END"]}
		}`))
		require.NoError(t, err)
		require.Equal(t, "gemini-2.0-flash", req.Model)
		require.Equal(t, "be brief", req.System)
		require.Len(t, req.Messages, 2)
		require.Equal(t, ir.RoleUser, req.Messages[0].Role)
		require.Equal(t, ir.RoleAssistant, req.Messages[1].Role)
		require.InDelta(t, 0.5, *req.Generation.Temperature, 1e-6)
		require.Equal(t, int64(256), *req.Generation.MaxTokens)
		require.Equal(t, []string{"END"}, req.Generation.StopSequences)
	})

	t.Run("function call and response", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gemini-2.0-flash",
			"contents": [
				{"role": "model", "parts": [{"functionCall": {"name": "get_weather", "args": {"city": "SF"}}}]},
				{"role": "user", "parts": [{"functionResponse": {"name": "get_weather", "response": {"output": "sunny"}}}]}
			],
			"tools": [{"functionDeclarations": [{"name": "get_weather", "description": "look up weather"}]}]
		}`))
		require.NoError(t, err)

		call := req.Messages[0].Content[0]
		require.Equal(t, ir.PartToolUse, call.Type)
		require.Equal(t, "get_weather", call.ToolUse.Name)
		require.JSONEq(t, `{"city":"SF"}`, call.ToolUse.Arguments)

		// functionResponse turns the carrying message into a tool turn and
		// correlates by name when no id was given.
		require.Equal(t, ir.RoleTool, req.Messages[1].Role)
		result := req.Messages[1].Content[0]
		require.Equal(t, "get_weather", result.ToolResult.ToolUseID)
		require.JSONEq(t, `{"output":"sunny"}`, result.ToolResult.Content)

		require.Len(t, req.Tools, 1)
		require.Equal(t, "get_weather", req.Tools[0].Name)
	})

	t.Run("google search grounds web search", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gemini-2.0-flash",
			"contents": [{"role": "user", "parts": [{"text": "news"}]}],
			"tools": [{"googleSearch": {}}]
		}`))
		require.NoError(t, err)
		require.True(t, req.Generation.WebSearch)
	})

	t.Run("thinking config", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gemini-2.5-pro",
			"contents": [{"role": "user", "parts": [{"text": "hard question"}]}],
			"generationConfig": {"thinkingConfig": {"includeThoughts": true, "thinkingBudget": 2048}}
		}`))
		require.NoError(t, err)
		require.NotNil(t, req.Generation.Reasoning)
		require.True(t, req.Generation.Reasoning.Enabled)
		require.Equal(t, int64(2048), *req.Generation.Reasoning.BudgetTokens)
	})
}

func TestGoogleBuildRequest(t *testing.T) {
	a, _ := ForName(NameGoogle)

	temp := 0.7
	maxTokens := int64(512)
	budget := int64(2048)
	wire, err := a.BuildRequest(&ir.Request{
		Model:  "gemini-2.0-flash",
		System: "be brief",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hello")}},
			{Role: ir.RoleAssistant, Content: []ir.ContentPart{ir.TextPart("hi")}},
		},
		Tools: []ir.Tool{{Name: "lookup", Parameters: map[string]any{"type": "object"}}},
		Generation: ir.GenerationParams{
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			Reasoning:   &ir.Reasoning{Enabled: true, BudgetTokens: &budget},
		},
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(wire)
	// The model travels in the URL, never the body.
	require.False(t, body.Get("model").Exists())
	require.Equal(t, "be brief", body.Get("systemInstruction.parts.0.text").String())
	require.Equal(t, "user", body.Get("contents.0.role").String())
	require.Equal(t, "model", body.Get("contents.1.role").String())
	require.Equal(t, "hello", body.Get("contents.0.parts.0.text").String())
	require.InDelta(t, 0.7, body.Get("generationConfig.temperature").Float(), 1e-6)
	require.Equal(t, int64(512), body.Get("generationConfig.maxOutputTokens").Int())
	require.Equal(t, "lookup", body.Get("tools.0.functionDeclarations.0.name").String())
	require.True(t, body.Get("generationConfig.thinkingConfig.includeThoughts").Bool())
	require.Equal(t, int64(2048), body.Get("generationConfig.thinkingConfig.thinkingBudget").Int())
}

func TestGoogleParseResponse(t *testing.T) {
	a, _ := ForName(NameGoogle)

	resp, err := a.ParseResponse([]byte(`{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "let me think", "thought": true},
				{"text": "It is sunny."}
			]},
			"finishReason": "STOP",
			"index": 0
		}],
		"usageMetadata": {"promptTokenCount": 15, "candidatesTokenCount": 10, "totalTokenCount": 25},
		"modelVersion": "gemini-2.0-flash-001",
		"responseId": "resp-123"
	}`))
	require.NoError(t, err)
	require.Equal(t, "resp-123", resp.ID)
	require.Equal(t, "gemini-2.0-flash-001", resp.Model)
	require.Equal(t, ir.Usage{PromptTokens: 15, CompletionTokens: 10, TotalTokens: 25}, resp.Usage)

	c := resp.Choices[0]
	require.Equal(t, ir.FinishStop, c.FinishReason)
	require.Equal(t, "let me think", c.Message.ReasoningContent)
	require.Equal(t, "It is sunny.", c.Message.Text())
}

func TestGoogleBuildResponse(t *testing.T) {
	a, _ := ForName(NameGoogle)

	wire, err := a.BuildResponse(&ir.Response{
		ID:    "resp-1",
		Model: "gpt-4o",
		Choices: []ir.Choice{{
			Message: ir.AssistantMessage{
				Content:   []ir.ContentPart{ir.TextPart("done")},
				ToolCalls: []ir.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":1}`}},
			},
			FinishReason: ir.FinishLength,
		}},
		Usage: ir.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(wire)
	require.Equal(t, "done", body.Get("candidates.0.content.parts.0.text").String())
	require.Equal(t, "lookup", body.Get("candidates.0.content.parts.1.functionCall.name").String())
	require.Equal(t, "MAX_TOKENS", body.Get("candidates.0.finishReason").String())
	require.Equal(t, int64(8), body.Get("usageMetadata.totalTokenCount").Int())
}

func TestGoogleParseError(t *testing.T) {
	a, _ := ForName(NameGoogle)

	e := a.ParseError(429, []byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	require.Equal(t, ir.ErrorKindRateLimit, e.Kind)
	require.Equal(t, "RESOURCE_EXHAUSTED", e.Code)
	require.Equal(t, "quota exceeded", e.Message)

	e = a.ParseError(400, []byte(`{"error":{"code":400,"message":"bad thing","status":"SOMETHING_NEW"}}`))
	require.Equal(t, ir.ErrorKindValidation, e.Kind)

	e = a.ParseError(503, []byte("html error page"))
	require.Equal(t, ir.ErrorKindServer, e.Kind)
	require.Equal(t, "html error page", e.Message)
}

func TestGoogleStreamParser(t *testing.T) {
	a, _ := ForName(NameGoogle)
	p := a.NewStreamParser()

	events := parseAll(t, p,
		`{"candidates":[{"content":{"parts":[{"text":"Hel"}],"role":"model"},"index":0}],"responseId":"resp-1","modelVersion":"gemini-2.0-flash"}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}],"role":"model"},"index":0}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"!"}],"role":"model"},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":7,"totalTokenCount":17}}`,
	)
	require.Equal(t, []ir.StreamEvent{
		ir.StartEvent("resp-1", "gemini-2.0-flash"),
		ir.ContentEvent(0, "Hel"),
		ir.ContentEvent(0, "lo"),
		ir.ContentEvent(0, "!"),
	}, events)

	// No terminator event in this dialect; EOF closes the stream.
	end := p.End()
	require.Len(t, end, 1)
	require.Equal(t, ir.FinishStop, end[0].FinishReason)
	require.Equal(t, &ir.Usage{PromptTokens: 10, CompletionTokens: 7, TotalTokens: 17}, end[0].Usage)
	require.Empty(t, p.End())
}

func TestGoogleStreamParserFunctionCall(t *testing.T) {
	a, _ := ForName(NameGoogle)
	p := a.NewStreamParser()

	events := parseAll(t, p,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"SF"}}}],"role":"model"},"finishReason":"STOP","index":0}],"responseId":"resp-2","modelVersion":"gemini-2.0-flash"}`,
	)
	require.Len(t, events, 2)
	call := events[1]
	require.Equal(t, ir.StreamToolCall, call.Type)
	require.Equal(t, 0, call.ToolCall.Index)
	require.Equal(t, "get_weather", call.ToolCall.Name)
	require.JSONEq(t, `{"city":"SF"}`, call.ToolCall.ArgumentsDelta)

	// Tool calls beat the STOP finish reason Gemini reports alongside them.
	end := p.End()
	require.Len(t, end, 1)
	require.Equal(t, ir.FinishToolCalls, end[0].FinishReason)
}

func TestGoogleStreamBuilder(t *testing.T) {
	a, _ := ForName(NameGoogle)
	b := a.NewStreamBuilder()

	frames, err := b.Next(ir.StartEvent("resp-1", "gemini-2.0-flash"))
	require.NoError(t, err)
	require.Empty(t, frames) // the dialect has no start frame

	frames, err = b.Next(ir.ContentEvent(0, "Hello"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Empty(t, frames[0].Event)
	body := gjson.ParseBytes(frames[0].Data)
	require.Equal(t, "resp-1", body.Get("responseId").String())
	require.Equal(t, "Hello", body.Get("candidates.0.content.parts.0.text").String())

	frames, err = b.Next(ir.EndEvent(ir.FinishStop, &ir.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	body = gjson.ParseBytes(frames[0].Data)
	require.Equal(t, "STOP", body.Get("candidates.0.finishReason").String())
	require.Equal(t, int64(5), body.Get("usageMetadata.totalTokenCount").Int())
}

func TestGoogleStreamBuilderAccumulatesCalls(t *testing.T) {
	a, _ := ForName(NameGoogle)
	b := a.NewStreamBuilder()

	_, err := b.Next(ir.StartEvent("resp-2", "gemini-2.0-flash"))
	require.NoError(t, err)

	// Argument deltas buffer silently; Gemini clients want whole calls.
	frames, err := b.Next(ir.StreamEvent{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{Index: 0, ID: "call_1", Name: "lookup"}})
	require.NoError(t, err)
	require.Empty(t, frames)
	frames, err = b.Next(ir.StreamEvent{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{Index: 0, ArgumentsDelta: `{"q":`}})
	require.NoError(t, err)
	require.Empty(t, frames)
	frames, err = b.Next(ir.StreamEvent{Type: ir.StreamToolCall, ToolCall: &ir.ToolCallDelta{Index: 0, ArgumentsDelta: `1}`}})
	require.NoError(t, err)
	require.Empty(t, frames)

	frames, err = b.Next(ir.EndEvent(ir.FinishToolCalls, nil))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	call := gjson.GetBytes(frames[0].Data, "candidates.0.content.parts.0.functionCall")
	require.Equal(t, "lookup", call.Get("name").String())
	require.Equal(t, "call_1", call.Get("id").String())
	require.Equal(t, int64(1), call.Get("args.q").Int())
}
