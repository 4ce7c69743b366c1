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

func TestAnthropicParseRequest(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	t.Run("block content and thinking", func(t *testing.T) {
		req, err := a.ParseRequest([]byte(`{
			"model": "claude-sonnet-4",
			"max_tokens": 2048,
			"system": [{"type": "text", "text": "be brief"}, {"type": "text", "text": "be kind"}],
			"messages": [
				{"role": "assistant", "content": [
					{"type": "thinking", "thinking": "let me think"},
					{"type": "text", "text": "here is my answer"}
				]},
				{"role": "user", "content": [
					{"type": "image", "source": {"type": "base64", "media_type": "image/jpeg", "data": "aGk="}}
				]}
			],
			"thinking": {"type": "enabled", "budget_tokens": 1024},
			"top_k": 40
		}`))
		require.NoError(t, err)
		require.Equal(t, "be brief\nbe kind", req.System)
		require.Equal(t, int64(2048), *req.Generation.MaxTokens)

		require.Equal(t, "let me think", req.Messages[0].ReasoningContent)
		require.Equal(t, "here is my answer", req.Messages[0].Content[0].Text)

		img := req.Messages[1].Content[0]
		require.Equal(t, ir.PartImage, img.Type)
		require.Equal(t, ir.MediaBase64, img.Image.Kind)
		require.Equal(t, "image/jpeg", img.Image.MediaType)

		require.NotNil(t, req.Generation.Reasoning)
		require.True(t, req.Generation.Reasoning.Enabled)
		require.Equal(t, int64(1024), *req.Generation.Reasoning.BudgetTokens)
		require.Equal(t, int64(40), req.Extensions["top_k"])
	})

	t.Run("tool choice variants", func(t *testing.T) {
		for wire, want := range map[string]ir.ToolChoice{
			`{"type":"auto"}`:                  {Mode: ir.ToolChoiceAuto},
			`{"type":"any"}`:                   {Mode: ir.ToolChoiceRequired},
			`{"type":"none"}`:                  {Mode: ir.ToolChoiceNone},
			`{"type":"tool","name":"get_pet"}`: {Mode: ir.ToolChoiceFunction, FunctionName: "get_pet"},
		} {
			req, err := a.ParseRequest([]byte(`{
				"model": "claude-sonnet-4", "max_tokens": 16, "messages": [],
				"tool_choice": ` + wire + `}`))
			require.NoError(t, err, wire)
			require.Equal(t, want, *req.ToolChoice, wire)
		}
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := a.ParseRequest([]byte(`{"max_tokens":16,"messages":[]}`))
		require.ErrorContains(t, err, "missing model")
	})
}

func TestAnthropicBuildRequest(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	t.Run("default max tokens", func(t *testing.T) {
		wire, err := a.BuildRequest(&ir.Request{
			Model:    "claude-sonnet-4",
			Messages: []ir.Message{{Role: ir.RoleUser, Content: []ir.ContentPart{ir.TextPart("hi")}}},
		})
		require.NoError(t, err)
		require.Equal(t, int64(defaultMaxTokens), gjson.GetBytes(wire, "max_tokens").Int())
	})

	t.Run("tool use input must be an object", func(t *testing.T) {
		wire, err := a.BuildRequest(&ir.Request{
			Model: "claude-sonnet-4",
			Messages: []ir.Message{{
				Role: ir.RoleAssistant,
				Content: []ir.ContentPart{
					ir.ToolUsePart("toolu_1", "lookup", `{"q":"cats"}`),
					ir.ToolUsePart("toolu_2", "lookup", `not json`),
				},
			}},
		})
		require.NoError(t, err)
		blocks := gjson.GetBytes(wire, "messages.0.content").Array()
		require.Len(t, blocks, 2)
		require.JSONEq(t, `{"q":"cats"}`, blocks[0].Get("input").Raw)
		require.JSONEq(t, `{}`, blocks[1].Get("input").Raw)
	})

	t.Run("rendered system and thinking", func(t *testing.T) {
		budget := int64(512)
		wire, err := a.BuildRequest(&ir.Request{
			Model:  "claude-sonnet-4",
			System: "be brief",
			Generation: ir.GenerationParams{
				Reasoning: &ir.Reasoning{Enabled: true, BudgetTokens: &budget},
			},
		})
		require.NoError(t, err)
		body := gjson.ParseBytes(wire)
		require.Equal(t, "be brief", body.Get("system").String())
		require.Equal(t, "enabled", body.Get("thinking.type").String())
		require.Equal(t, int64(512), body.Get("thinking.budget_tokens").Int())
	})

	t.Run("audio degrades to text", func(t *testing.T) {
		wire, err := a.BuildRequest(&ir.Request{
			Model: "claude-sonnet-4",
			Messages: []ir.Message{{
				Role: ir.RoleUser,
				Content: []ir.ContentPart{{
					Type:  ir.PartAudio,
					Audio: &ir.MediaRef{Kind: ir.MediaBase64, MediaType: "audio/mpeg", Data: "aGk="},
				}},
			}},
		})
		require.NoError(t, err)
		block := gjson.GetBytes(wire, "messages.0.content.0")
		require.Equal(t, "text", block.Get("type").String())
		require.Equal(t, "[audio: audio/mpeg]", block.Get("text").String())
	})
}

func TestAnthropicParseResponse(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	resp, err := a.ParseResponse([]byte(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "thinking", "thinking": "hmm"},
			{"type": "text", "text": "It is sunny."},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "SF"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 9}
	}`))
	require.NoError(t, err)
	require.Equal(t, "msg_01", resp.ID)
	require.Equal(t, ir.Usage{PromptTokens: 20, CompletionTokens: 9, TotalTokens: 29}, resp.Usage)

	c := resp.Choices[0]
	require.Equal(t, ir.FinishToolCalls, c.FinishReason)
	require.Equal(t, "hmm", c.Message.ReasoningContent)
	require.Equal(t, "It is sunny.", c.Message.Text())
	require.Equal(t, "toolu_1", c.Message.ToolCalls[0].ID)
	require.JSONEq(t, `{"city":"SF"}`, c.Message.ToolCalls[0].Arguments)
}

func TestAnthropicBuildResponse(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	wire, err := a.BuildResponse(&ir.Response{
		ID:    "resp-1",
		Model: "gpt-4o",
		Choices: []ir.Choice{{
			Message: ir.AssistantMessage{
				Content:   []ir.ContentPart{ir.TextPart("done")},
				ToolCalls: []ir.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":1}`}},
			},
			FinishReason: ir.FinishToolCalls,
		}},
		Usage: ir.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(wire)
	require.Equal(t, "message", body.Get("type").String())
	require.Equal(t, "assistant", body.Get("role").String())
	require.Equal(t, "tool_use", body.Get("stop_reason").String())
	require.Equal(t, "done", body.Get("content.0.text").String())
	require.Equal(t, "tool_use", body.Get("content.1.type").String())
	require.Equal(t, "call_1", body.Get("content.1.id").String())
	require.Equal(t, int64(5), body.Get("usage.input_tokens").Int())
	require.Equal(t, int64(3), body.Get("usage.output_tokens").Int())
}

func TestAnthropicBuildResponseEmptyChoices(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	wire, err := a.BuildResponse(&ir.Response{ID: "resp-1", Model: "gpt-4o"})
	require.NoError(t, err)
	body := gjson.ParseBytes(wire)
	require.True(t, body.Get("content").IsArray())
	require.Empty(t, body.Get("content").Array())
}

func TestAnthropicParseError(t *testing.T) {
	a, _ := ForName(NameAnthropic)

	for _, tc := range []struct {
		status   int
		body     string
		wantKind ir.ErrorKind
		wantCode string
	}{
		{
			status:   529,
			body:     `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantKind: ir.ErrorKindServer,
			wantCode: "overloaded_error",
		},
		{
			status:   http.StatusUnauthorized,
			body:     `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantKind: ir.ErrorKindAuthentication,
			wantCode: "authentication_error",
		},
		{
			status:   http.StatusBadRequest,
			body:     `no json here`,
			wantKind: ir.ErrorKindValidation,
		},
	} {
		e := a.ParseError(tc.status, []byte(tc.body))
		require.Equal(t, tc.wantKind, e.Kind, tc.body)
		require.Equal(t, tc.wantCode, e.Code, tc.body)
	}
}
