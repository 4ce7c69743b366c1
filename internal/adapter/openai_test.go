// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package adapter

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/isboyjc/amux/internal/ir"
)

func TestOpenAIParseRequest(t *testing.T) {
	a, _ := ForName(NameOpenAI)

	t.Run("system lifting and generation params", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gpt-4o",
			"messages": [
				{"role": "system", "content": "be brief"},
				{"role": "developer", "content": "answer in JSON"},
				{"role": "user", "content": "hello"}
			],
			"temperature": 0.5,
			"top_p": 0.9,
			"max_completion_tokens": 300,
			"max_tokens": 100,
			"seed": 42,
			"reasoning_effort": "high",
			"user": "u-123"
		}`))
		require.NoError(t, err)
		require.Equal(t, "gpt-4o", req.Model)
		require.Equal(t, "be brief\nanswer in JSON", req.System)
		require.Len(t, req.Messages, 1)
		require.Equal(t, ir.RoleUser, req.Messages[0].Role)
		require.Equal(t, "hello", req.Messages[0].Content[0].Text)

		g := req.Generation
		require.Equal(t, 0.5, *g.Temperature)
		require.Equal(t, 0.9, *g.TopP)
		// max_completion_tokens wins over the deprecated max_tokens.
		require.Equal(t, int64(300), *g.MaxTokens)
		require.Equal(t, int64(42), *g.Seed)
		require.NotNil(t, g.Reasoning)
		require.True(t, g.Reasoning.Enabled)
		require.Equal(t, "high", g.Reasoning.Effort)
		require.Equal(t, "u-123", req.Extensions["user"])
	})

	t.Run("tool calls and tool results", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gpt-4o",
			"messages": [
				{"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":1}"}}
				]},
				{"role": "tool", "tool_call_id": "call_1", "content": "found it"}
			],
			"tools": [{"type": "function", "function": {"name": "lookup", "parameters": {"type": "object"}}}],
			"tool_choice": {"type": "function", "function": {"name": "lookup"}}
		}`))
		require.NoError(t, err)
		require.Len(t, req.Messages, 2)

		call := req.Messages[0].Content[0]
		require.Equal(t, ir.PartToolUse, call.Type)
		require.Equal(t, "call_1", call.ToolUse.ID)
		require.Equal(t, "lookup", call.ToolUse.Name)
		require.JSONEq(t, `{"q":1}`, call.ToolUse.Arguments)

		result := req.Messages[1].Content[0]
		require.Equal(t, ir.RoleTool, req.Messages[1].Role)
		require.Equal(t, ir.PartToolResult, result.Type)
		require.Equal(t, "call_1", result.ToolResult.ToolUseID)
		require.Equal(t, "found it", result.ToolResult.Content)

		require.Len(t, req.Tools, 1)
		require.Equal(t, "lookup", req.Tools[0].Name)
		require.Equal(t, ir.ToolChoiceFunction, req.ToolChoice.Mode)
		require.Equal(t, "lookup", req.ToolChoice.FunctionName)
	})

	t.Run("multimodal content parts", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "gpt-4o",
			"messages": [{"role": "user", "content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGk="}},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]}]
		}`))
		require.NoError(t, err)
		parts := req.Messages[0].Content
		require.Len(t, parts, 3)
		require.Equal(t, ir.PartText, parts[0].Type)
		require.Equal(t, ir.MediaBase64, parts[1].Image.Kind)
		require.Equal(t, "image/png", parts[1].Image.MediaType)
		require.Equal(t, "aGk=", parts[1].Image.Data)
		require.Equal(t, ir.MediaURL, parts[2].Image.Kind)
		require.Equal(t, "https://example.com/cat.png", parts[2].Image.URL)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := a.ParseRequest([]byte(`{"messages":[]}`))
		require.ErrorContains(t, err, "missing model")
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := a.ParseRequest([]byte(`{`))
		require.ErrorContains(t, err, "invalid openai request")
	})
}

func TestOpenAIBuildRequestStreamUsage(t *testing.T) {
	a, _ := ForName(NameOpenAI)

	wire, err := a.BuildRequest(&ir.Request{
		Model:    "gpt-4o",
		Stream:   true,
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}}},
	})
	require.NoError(t, err)
	body := gjson.ParseBytes(wire)
	require.True(t, body.Get("stream").Bool())
	require.True(t, body.Get("stream_options.include_usage").Bool())

	wire, err = a.BuildRequest(&ir.Request{
		Model:    "gpt-4o",
		Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}}},
	})
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(wire, "stream_options").Exists())
}

func TestOpenAIParseResponse(t *testing.T) {
	a, _ := ForName(NameOpenAI)

	resp, err := a.ParseResponse([]byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1736899200,
		"model": "gpt-4o-2024-11-20",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "Hello there",
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
	}`))
	require.NoError(t, err)
	require.Equal(t, "chatcmpl-1", resp.ID)
	require.Equal(t, "gpt-4o-2024-11-20", resp.Model)
	require.Equal(t, int64(1736899200), resp.Created)
	require.Equal(t, ir.Usage{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 18}, resp.Usage)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, ir.FinishToolCalls, resp.Choices[0].FinishReason)
	require.Equal(t, "Hello there", resp.Choices[0].Message.Text())
	require.Equal(t, "call_9", resp.Choices[0].Message.ToolCalls[0].ID)
}

func TestOpenAIBuildResponse(t *testing.T) {
	a, _ := ForName(NameOpenAI)

	wire, err := a.BuildResponse(&ir.Response{
		ID:    "resp-1",
		Model: "claude-sonnet-4",
		Choices: []ir.Choice{{
			Message: ir.AssistantMessage{
				Content:          []ir.ContentPart{ir.TextPart("done")},
				ReasoningContent: "thought about it",
			},
			FinishReason: ir.FinishStop,
		}},
		Usage: ir.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(wire)
	require.Equal(t, "resp-1", body.Get("id").String())
	require.Equal(t, "chat.completion", body.Get("object").String())
	require.Positive(t, body.Get("created").Int())
	require.Equal(t, "done", body.Get("choices.0.message.content").String())
	require.Equal(t, "thought about it", body.Get("choices.0.message.reasoning_content").String())
	require.Equal(t, "stop", body.Get("choices.0.finish_reason").String())
	require.Equal(t, int64(6), body.Get("usage.total_tokens").Int())
}

func TestOpenAIFinishReasonMapping(t *testing.T) {
	for wire, want := range map[string]ir.FinishReason{
		"stop":           ir.FinishStop,
		"length":         ir.FinishLength,
		"tool_calls":     ir.FinishToolCalls,
		"function_call":  ir.FinishToolCalls,
		"content_filter": ir.FinishContentFilter,
		"weird_future":   ir.FinishStop,
	} {
		require.Equal(t, want, finishReasonFromOpenAI(wire), wire)
	}
}

func TestOpenAIParseError(t *testing.T) {
	a, _ := ForName(NameOpenAI)

	for _, tc := range []struct {
		name     string
		status   int
		body     string
		wantKind ir.ErrorKind
		wantCode string
		wantMsg  string
	}{
		{
			name:     "code takes precedence",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantKind: ir.ErrorKindAuthentication,
			wantCode: "invalid_api_key",
			wantMsg:  "Incorrect API key provided",
		},
		{
			name:     "type fallback",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantKind: ir.ErrorKindRateLimit,
			wantMsg:  "slow down",
		},
		{
			name:     "quota is a permission problem",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			wantKind: ir.ErrorKindPermission,
			wantCode: "insufficient_quota",
			wantMsg:  "You exceeded your current quota",
		},
		{
			name:     "non-json body classified by status",
			status:   http.StatusBadGateway,
			body:     "upstream exploded",
			wantKind: ir.ErrorKindServer,
			wantMsg:  "upstream exploded",
		},
		{
			name:     "empty envelope classified by status",
			status:   http.StatusNotFound,
			body:     `{"error":{}}`,
			wantKind: ir.ErrorKindNotFound,
			wantMsg:  `{"error":{}}`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := a.ParseError(tc.status, []byte(tc.body))
			require.Equal(t, tc.wantKind, e.Kind)
			require.Equal(t, tc.wantCode, e.Code)
			require.Equal(t, tc.wantMsg, e.Message)
			require.Equal(t, tc.status, e.StatusCode)
			require.Equal(t, []byte(tc.body), e.Raw)
		})
	}
}

func TestCompatDialectDefaults(t *testing.T) {
	for name, baseURL := range map[string]string{
		NameDeepSeek: "https://api.deepseek.com",
		NameMoonshot: "https://api.moonshot.cn",
		NameQwen:     "https://dashscope.aliyuncs.com/compatible-mode",
		NameZhipu:    "https://open.bigmodel.cn/api/paas/v4",
	} {
		a, ok := ForName(name)
		require.True(t, ok, name)
		require.Equal(t, baseURL, a.DefaultBaseURL(), name)
	}

	zhipu, _ := ForName(NameZhipu)
	require.Equal(t, "v4", zhipu.Version())
	require.Equal(t, "/models", zhipu.DefaultModelsPath())
}

// TestCompatDialectExtensions covers the private request options the
// compatible dialects carry: Qwen's enable_thinking toggle, Zhipu's
// do_sample, and the reasoning_effort field the rest reject.
func TestCompatDialectExtensions(t *testing.T) {
	reasoning := &ir.Request{
		Model:      "m",
		Messages:   []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}}},
		Generation: ir.GenerationParams{Reasoning: &ir.Reasoning{Enabled: true, Effort: "high"}},
	}

	t.Run("qwen maps reasoning onto enable_thinking", func(t *testing.T) {
		a, _ := ForName(NameQwen)
		wire, err := a.BuildRequest(reasoning)
		require.NoError(t, err)
		body := gjson.ParseBytes(wire)
		require.True(t, body.Get("enable_thinking").Bool())
		require.False(t, body.Get("reasoning_effort").Exists())
	})

	t.Run("qwen round-trips an explicit toggle", func(t *testing.T) {
		a, _ := ForName(NameQwen)
		req, err := a.ParseRequest([]byte(`{"model":"qwen-max","messages":[{"role":"user","content":"hi"}],"enable_thinking":false}`))
		require.NoError(t, err)
		require.Equal(t, false, req.Extensions["enable_thinking"])

		wire, err := a.BuildRequest(req)
		require.NoError(t, err)
		body := gjson.ParseBytes(wire)
		require.True(t, body.Get("enable_thinking").Exists())
		require.False(t, body.Get("enable_thinking").Bool())
	})

	t.Run("zhipu round-trips do_sample", func(t *testing.T) {
		a, _ := ForName(NameZhipu)
		req, err := a.ParseRequest([]byte(`{"model":"glm-4","messages":[{"role":"user","content":"hi"}],"do_sample":true}`))
		require.NoError(t, err)
		require.Equal(t, true, req.Extensions["do_sample"])

		wire, err := a.BuildRequest(req)
		require.NoError(t, err)
		require.True(t, gjson.GetBytes(wire, "do_sample").Bool())
	})

	t.Run("deepseek strips reasoning_effort", func(t *testing.T) {
		a, _ := ForName(NameDeepSeek)
		wire, err := a.BuildRequest(reasoning)
		require.NoError(t, err)
		require.False(t, gjson.GetBytes(wire, "reasoning_effort").Exists())
	})

	t.Run("openai keeps reasoning_effort", func(t *testing.T) {
		a, _ := ForName(NameOpenAI)
		wire, err := a.BuildRequest(reasoning)
		require.NoError(t, err)
		require.Equal(t, "high", gjson.GetBytes(wire, "reasoning_effort").String())
	})
}
