// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/isboyjc/amux/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// serverConfig binds an ephemeral port so tests run in parallel.
const serverConfig = `
settings:
  proxy:
    host: 127.0.0.1
    port: 0
providers:
  - id: prov-openai
    adapterType: openai
    baseUrl: __UPSTREAM__
    apiKey: sk-upstream
    models: [gpt-4o]
    enabled: true
proxies:
  - id: px-claude
    inboundAdapter: anthropic
    outboundKind: provider
    outboundId: prov-openai
    path: claude
    enabled: true
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadStore(t *testing.T, cfgYAML string) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amux.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o600))
	s, err := store.Load(path, nil, discardLogger())
	require.NoError(t, err)
	return s, path
}

func startServer(t *testing.T, cfgYAML string) *Server {
	t.Helper()
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	s, _ := loadStore(t, cfgYAML)
	srv, err := New(Options{Store: s, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, srv.Start(t.Context()))
	t.Cleanup(func() {
		http.DefaultClient.CloseIdleConnections()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))
	})
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestServer_healthAndStatus(t *testing.T) {
	srv := startServer(t, strings.ReplaceAll(serverConfig, "__UPSTREAM__", "http://127.0.0.1:1"))
	base := "http://" + srv.Addr()

	resp, body := get(t, base+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	require.True(t, gjson.GetBytes(body, "metrics.global.total").Exists())

	resp, body = get(t, base+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "amux", gjson.GetBytes(body, "name").String())
	require.EqualValues(t, 1, gjson.GetBytes(body, "proxies").Int())
	require.EqualValues(t, 1, gjson.GetBytes(body, "providers").Int())
}

func TestServer_gatewayRoutesMounted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	}))
	defer upstream.Close()

	srv := startServer(t, strings.ReplaceAll(serverConfig, "__UPSTREAM__", upstream.URL))
	base := "http://" + srv.Addr()

	resp, err := http.Post(base+"/proxies/claude/v1/messages", "application/json",
		strings.NewReader(`{"model":"gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "message", gjson.GetBytes(body, "type").String())

	// The request shows up in the health snapshot and the request log.
	_, health := get(t, base+"/health")
	require.EqualValues(t, 1, gjson.GetBytes(health, "metrics.global.total").Int())
	records := srv.RequestLogs(0)
	require.Len(t, records, 1)
	require.Equal(t, "px-claude", records[0].ProxyID)
}

func TestServer_routeSwapOnReload(t *testing.T) {
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	cfg := strings.ReplaceAll(serverConfig, "__UPSTREAM__", "http://127.0.0.1:1")
	s, path := loadStore(t, cfg)
	srv, err := New(Options{Store: s, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	require.NoError(t, srv.Start(t.Context()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))
	}()
	base := "http://" + srv.Addr()

	resp, _ := get(t, base+"/proxies/claude/v1/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Disable the proxy on disk; the reload must unmount its routes.
	require.NoError(t, os.WriteFile(path,
		[]byte(strings.Replace(cfg, "    enabled: true\n", "    enabled: false\n", 2)), 0o600))
	require.NoError(t, s.Reload())

	resp, _ = get(t, base+"/proxies/claude/v1/models")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_restart(t *testing.T) {
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	s, _ := loadStore(t, strings.ReplaceAll(serverConfig, "__UPSTREAM__", "http://127.0.0.1:1"))
	srv, err := New(Options{Store: s, Logger: discardLogger()})
	require.NoError(t, err)
	t.Cleanup(http.DefaultClient.CloseIdleConnections)

	for i := 0; i < 2; i++ {
		require.NoError(t, srv.Start(t.Context()))
		resp, _ := get(t, "http://"+srv.Addr()+"/health")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, srv.Stop(ctx))
		cancel()
	}

	// A second Start without a Stop in between is refused.
	require.NoError(t, srv.Start(t.Context()))
	require.Error(t, srv.Start(t.Context()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_cors(t *testing.T) {
	srv := startServer(t, strings.ReplaceAll(serverConfig, "__UPSTREAM__", "http://127.0.0.1:1"))
	base := "http://" + srv.Addr()

	req, err := http.NewRequest(http.MethodOptions, base+"/proxies/claude/v1/messages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSOrigin(t *testing.T) {
	require.Equal(t, "*", corsOrigin([]string{"*"}, "https://a.example"))
	require.Equal(t, "https://a.example", corsOrigin([]string{"https://a.example"}, "https://a.example"))
	require.Empty(t, corsOrigin([]string{"https://a.example"}, "https://b.example"))
}
