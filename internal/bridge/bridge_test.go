// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package bridge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/isboyjc/amux/internal/adapter"
	"github.com/isboyjc/amux/internal/ir"
)

func mustAdapter(t *testing.T, name string) adapter.Adapter {
	t.Helper()
	a, ok := adapter.ForName(name)
	require.True(t, ok)
	return a
}

func TestChat_anthropicToOpenAI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-upstream", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer upstream.Close()

	var gotUsage ir.Usage
	b := New(
		mustAdapter(t, adapter.NameAnthropic),
		mustAdapter(t, adapter.NameOpenAI),
		Config{APIKey: "sk-upstream", BaseURL: upstream.URL},
		Hooks{OnUsage: func(u ir.Usage) { gotUsage = u }},
		nil, nil,
	)

	req, err := b.ParseRequest([]byte(`{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)

	wire, result, err := b.Chat(t.Context(), req)
	require.NoError(t, err)
	require.Equal(t, ir.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, result.Usage)
	require.Equal(t, gotUsage, result.Usage)
	require.Equal(t, ir.FinishStop, result.FinishReason)

	// The response comes back on the Anthropic wire.
	require.Equal(t, "message", gjson.GetBytes(wire, "type").String())
	require.Equal(t, "hi there", gjson.GetBytes(wire, "content.0.text").String())
	require.Equal(t, "end_turn", gjson.GetBytes(wire, "stop_reason").String())
	require.EqualValues(t, 7, gjson.GetBytes(wire, "usage.input_tokens").Int())
}

func TestChatStream_anthropicToOpenAI(t *testing.T) {
	chunks := []string{
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hel"}}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`[DONE]`,
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, gjson.GetBytes(mustReadBody(t, r), "stream").Bool())
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + c + "\n\n"))
			f.Flush()
		}
	}))
	defer upstream.Close()

	b := New(
		mustAdapter(t, adapter.NameAnthropic),
		mustAdapter(t, adapter.NameOpenAI),
		Config{APIKey: "sk-upstream", BaseURL: upstream.URL},
		Hooks{},
		nil, nil,
	)

	req, err := b.ParseRequest([]byte(`{"model":"gpt-4o","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)

	var frames []adapter.Frame
	result, err := b.ChatStream(t.Context(), req, func(f adapter.Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ir.FinishStop, result.FinishReason)
	require.Equal(t, ir.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, result.Usage)

	// Anthropic framing: event-prefixed, no [DONE].
	var events []string
	var text strings.Builder
	for _, f := range frames {
		require.False(t, f.Done)
		require.NotEmpty(t, f.Event)
		events = append(events, f.Event)
		if f.Event == "content_block_delta" {
			text.WriteString(gjson.GetBytes(f.Data, "delta.text").String())
		}
	}
	require.Equal(t, "message_start", events[0])
	require.Equal(t, "message_stop", events[len(events)-1])
	require.Contains(t, events, "content_block_start")
	require.Contains(t, events, "content_block_stop")
	require.Contains(t, events, "message_delta")
	require.Equal(t, "hello", text.String())
}

func TestChat_upstreamErrors(t *testing.T) {
	t.Run("structured error passes through", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error","code":"model_not_found"}}`))
		}))
		defer upstream.Close()

		b := New(mustAdapter(t, adapter.NameOpenAI), mustAdapter(t, adapter.NameOpenAI),
			Config{APIKey: "k", BaseURL: upstream.URL}, Hooks{}, nil, nil)
		req, err := b.ParseRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
		require.NoError(t, err)
		_, _, err = b.Chat(t.Context(), req)
		var uerr *ir.Error
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, http.StatusBadRequest, uerr.StatusCode)
		require.Equal(t, ir.ErrorKindNotFound, uerr.Kind)
		require.NotEmpty(t, uerr.Raw)
	})

	t.Run("429 maps to RATE_LIMITED", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
		}))
		defer upstream.Close()

		b := New(mustAdapter(t, adapter.NameOpenAI), mustAdapter(t, adapter.NameOpenAI),
			Config{APIKey: "k", BaseURL: upstream.URL}, Hooks{}, nil, nil)
		req, err := b.ParseRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
		require.NoError(t, err)
		_, _, err = b.Chat(t.Context(), req)
		ge, ok := ir.AsGatewayError(err)
		require.True(t, ok)
		require.Equal(t, ir.CodeRateLimited, ge.Code)
	})

	t.Run("timeout maps to CONNECTION_TIMEOUT", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server's background read can detect
			// the client disconnect and cancel r.Context(); otherwise
			// this handler blocks forever and Close deadlocks.
			_, _ = io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}))
		defer upstream.Close()

		b := New(mustAdapter(t, adapter.NameOpenAI), mustAdapter(t, adapter.NameOpenAI),
			Config{APIKey: "k", BaseURL: upstream.URL, Timeout: 50 * time.Millisecond}, Hooks{}, nil, nil)
		req, err := b.ParseRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
		require.NoError(t, err)
		_, _, err = b.Chat(t.Context(), req)
		ge, ok := ir.AsGatewayError(err)
		require.True(t, ok)
		require.Equal(t, ir.CodeConnectionTimeout, ge.Code)
	})

	t.Run("unreachable maps to PROVIDER_UNREACHABLE", func(t *testing.T) {
		b := New(mustAdapter(t, adapter.NameOpenAI), mustAdapter(t, adapter.NameOpenAI),
			Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, Hooks{}, nil, nil)
		req, err := b.ParseRequest([]byte(`{"model":"m","messages":[{"role":"user","content":"x"}]}`))
		require.NoError(t, err)
		_, _, err = b.Chat(t.Context(), req)
		ge, ok := ir.AsGatewayError(err)
		require.True(t, ok)
		require.Equal(t, ir.CodeProviderUnreachable, ge.Code)
	})
}

func mustReadBody(t *testing.T, r *http.Request) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return body
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	// Deterministic clock so the LRU scan has a strict order.
	var tick int64
	c.now = func() time.Time { tick++; return time.Unix(0, tick) }
	b1, b2, b3 := &Bridge{}, &Bridge{}, &Bridge{}

	c.Put("px1", "prov1", b1)
	c.Put("px2", "prov1", b2)
	got, ok := c.Get("px1", "prov1")
	require.True(t, ok)
	require.Same(t, b1, got)

	// px2/prov1 is now the least recently used and gets evicted.
	c.Put("px3", "prov2", b3)
	require.Equal(t, 2, c.Len())
	_, ok = c.Get("px2", "prov1")
	require.False(t, ok)
	_, ok = c.Get("px1", "prov1")
	require.True(t, ok)

	c.Invalidate("px1")
	_, ok = c.Get("px1", "prov1")
	require.False(t, ok)

	c.Put("px4", "prov2", b1)
	c.InvalidateProvider("prov2")
	_, ok = c.Get("px3", "prov2")
	require.False(t, ok)
	_, ok = c.Get("px4", "prov2")
	require.False(t, ok)

	c.Put("a", "b", b1)
	c.Clear()
	require.Equal(t, 0, c.Len())
}
