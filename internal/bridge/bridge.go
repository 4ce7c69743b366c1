// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package bridge pairs an inbound adapter with an outbound adapter and
// executes requests against the outbound side's upstream, translating
// both directions through the IR.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/packages/ssestream"

	"github.com/isboyjc/amux/internal/adapter"
	"github.com/isboyjc/amux/internal/ir"
)

// DefaultTimeout bounds a request, streaming included, when the
// configuration carries none.
const DefaultTimeout = 60 * time.Second

// Config carries the upstream coordinates of one bridge.
type Config struct {
	// APIKey is the decrypted upstream credential.
	APIKey string
	// BaseURL overrides the outbound adapter's default origin.
	BaseURL string
	// ChatPath overrides the outbound adapter's default chat path.
	ChatPath string
	// Timeout bounds the whole request; zero means DefaultTimeout.
	Timeout time.Duration
}

// Hooks observe the canonical forms as they pass through. Hooks must not
// mutate their arguments.
type Hooks struct {
	OnRequest     func(*ir.Request)
	OnResponse    func(*ir.Response)
	OnStreamEvent func(ir.StreamEvent)
	OnUsage       func(ir.Usage)
}

// Result reports what a completed call consumed and produced. Streaming
// calls fill it from the end event.
type Result struct {
	Model        string
	FinishReason ir.FinishReason
	Usage        ir.Usage
}

// Bridge is one inbound/outbound adapter pair bound to an upstream.
// Bridges are safe for concurrent use and are cached per
// (proxy, provider) pair.
type Bridge struct {
	inbound  adapter.Adapter
	outbound adapter.Adapter
	cfg      Config
	hooks    Hooks
	client   *http.Client
	logger   *slog.Logger
}

// New builds a bridge. A nil client uses http.DefaultClient; per-request
// deadlines come from cfg.Timeout, not the client.
func New(inbound, outbound adapter.Adapter, cfg Config, hooks Hooks, client *http.Client, logger *slog.Logger) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{inbound: inbound, outbound: outbound, cfg: cfg, hooks: hooks, client: client, logger: logger}
}

// WithStreamHook returns a copy of the bridge whose OnStreamEvent runs
// fn after any existing hook. The underlying client and config are
// shared, so cached bridges can be specialized per request.
func (b *Bridge) WithStreamHook(fn func(ir.StreamEvent)) *Bridge {
	nb := *b
	prev := nb.hooks.OnStreamEvent
	nb.hooks.OnStreamEvent = func(ev ir.StreamEvent) {
		if prev != nil {
			prev(ev)
		}
		fn(ev)
	}
	return &nb
}

// Inbound returns the client-facing adapter.
func (b *Bridge) Inbound() adapter.Adapter { return b.inbound }

// Outbound returns the upstream-facing adapter.
func (b *Bridge) Outbound() adapter.Adapter { return b.outbound }

// ParseRequest decodes an inbound wire request. Exposed so callers can
// apply model mapping between parse and execution.
func (b *Bridge) ParseRequest(wire []byte) (*ir.Request, error) {
	req, err := b.inbound.ParseRequest(wire)
	if err != nil {
		return nil, ir.GatewayErrorf(ir.CodeInvalidRequest, "cannot parse %s request: %w", b.inbound.Name(), err)
	}
	return req, nil
}

// Chat executes one non-streaming request and returns the response on
// the inbound dialect's wire.
func (b *Bridge) Chat(ctx context.Context, req *ir.Request) ([]byte, Result, error) {
	var result Result
	req.Stream = false
	if b.hooks.OnRequest != nil {
		b.hooks.OnRequest(req)
	}
	body, err := b.outbound.BuildRequest(req)
	if err != nil {
		return nil, result, ir.GatewayErrorf(ir.CodeAdapterError, "cannot build %s request: %w", b.outbound.Name(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	httpResp, err := b.send(ctx, req.Model, false, body)
	if err != nil {
		return nil, result, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, result, classifyTransport(ctx, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, result, b.upstreamError(httpResp.StatusCode, respBody)
	}

	resp, err := b.outbound.ParseResponse(respBody)
	if err != nil {
		return nil, result, ir.GatewayErrorf(ir.CodeAdapterError, "cannot parse %s response: %w", b.outbound.Name(), err)
	}
	if b.hooks.OnResponse != nil {
		b.hooks.OnResponse(resp)
	}
	result = Result{Model: resp.Model, FinishReason: firstFinishReason(resp), Usage: resp.Usage}
	if b.hooks.OnUsage != nil && !resp.Usage.IsZero() {
		b.hooks.OnUsage(resp.Usage)
	}

	out, err := b.inbound.BuildResponse(resp)
	if err != nil {
		return nil, result, ir.GatewayErrorf(ir.CodeAdapterError, "cannot build %s response: %w", b.inbound.Name(), err)
	}
	return out, result, nil
}

// ChatStream executes one streaming request, writing inbound-dialect
// frames through write as upstream events arrive. The next upstream read
// waits for write to return, so slow clients apply backpressure. On a
// mid-stream failure it writes a dialect error frame before returning
// the error.
func (b *Bridge) ChatStream(ctx context.Context, req *ir.Request, write func(adapter.Frame) error) (Result, error) {
	var result Result
	req.Stream = true
	if b.hooks.OnRequest != nil {
		b.hooks.OnRequest(req)
	}
	body, err := b.outbound.BuildRequest(req)
	if err != nil {
		return result, ir.GatewayErrorf(ir.CodeAdapterError, "cannot build %s request: %w", b.outbound.Name(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	httpResp, err := b.send(ctx, req.Model, true, body)
	if err != nil {
		return result, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		return result, b.upstreamError(httpResp.StatusCode, respBody)
	}

	parser := b.outbound.NewStreamParser()
	builder := b.inbound.NewStreamBuilder()
	emit := func(evs []ir.StreamEvent) error {
		for _, ev := range evs {
			if b.hooks.OnStreamEvent != nil {
				b.hooks.OnStreamEvent(ev)
			}
			switch ev.Type {
			case ir.StreamStart:
				result.Model = ev.Model
			case ir.StreamEnd:
				result.FinishReason = ev.FinishReason
				if ev.Usage != nil {
					result.Usage = *ev.Usage
					if b.hooks.OnUsage != nil {
						b.hooks.OnUsage(*ev.Usage)
					}
				}
			}
			frames, err := builder.Next(ev)
			if err != nil {
				return ir.GatewayErrorf(ir.CodeAdapterError, "cannot build %s frame: %w", b.inbound.Name(), err)
			}
			for _, f := range frames {
				if err := write(f); err != nil {
					return fmt.Errorf("client write: %w", err)
				}
			}
		}
		return nil
	}

	decoder := ssestream.NewDecoder(httpResp)
	for decoder.Next() {
		ev := decoder.Event()
		evs, err := parser.Parse(adapter.SSEEvent{Event: ev.Type, Data: []byte(ev.Data)})
		if err != nil {
			werr := ir.GatewayErrorf(ir.CodeAdapterError, "cannot parse %s stream event: %w", b.outbound.Name(), err)
			b.writeErrorFrame(emit, werr)
			return result, werr
		}
		if err := emit(evs); err != nil {
			return result, err
		}
	}
	if err := decoder.Err(); err != nil {
		werr := classifyTransport(ctx, err)
		b.writeErrorFrame(emit, werr)
		return result, werr
	}
	if err := emit(parser.End()); err != nil {
		return result, err
	}
	return result, nil
}

// writeErrorFrame pushes a dialect error frame to the client on a best
// effort basis; the stream is already broken.
func (b *Bridge) writeErrorFrame(emit func([]ir.StreamEvent) error, gerr *ir.GatewayError) {
	ev := ir.ErrorEvent(&ir.Error{
		Kind:       ir.ErrorKindServer,
		Code:       string(gerr.Code),
		Message:    gerr.Message,
		StatusCode: gerr.HTTPStatus(),
	})
	if err := emit([]ir.StreamEvent{ev}); err != nil {
		b.logger.Debug("failed to write error frame", slog.String("error", err.Error()))
	}
}

func (b *Bridge) send(ctx context.Context, model string, stream bool, body []byte) (*http.Response, error) {
	url := joinURL(baseURL(b.outbound, b.cfg), b.outbound.ChatPath(b.cfg.ChatPath, model, stream))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ir.GatewayErrorf(ir.CodeInternalError, "cannot create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	b.outbound.ApplyAuth(httpReq.Header, b.cfg.APIKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	return resp, nil
}

// upstreamError turns a non-2xx upstream body into the canonical error.
// 429 maps to the gateway's RATE_LIMITED taxonomy; everything else keeps
// the upstream status and body for verbatim pass-through.
func (b *Bridge) upstreamError(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		perr := b.outbound.ParseError(status, body)
		return &ir.GatewayError{Code: ir.CodeRateLimited, Message: perr.Message, Err: perr}
	}
	perr := b.outbound.ParseError(status, body)
	perr.Raw = append([]byte(nil), body...)
	return perr
}

// classifyTransport maps a transport failure onto the gateway taxonomy.
func classifyTransport(ctx context.Context, err error) *ir.GatewayError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ir.GatewayError{Code: ir.CodeConnectionTimeout, Message: "upstream request timed out", Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &ir.GatewayError{Code: ir.CodeInternalError, Message: "request canceled", Err: err}
	default:
		return &ir.GatewayError{Code: ir.CodeProviderUnreachable, Message: "cannot reach upstream", Err: err}
	}
}

func firstFinishReason(resp *ir.Response) ir.FinishReason {
	if len(resp.Choices) > 0 {
		return resp.Choices[0].FinishReason
	}
	return ""
}

func baseURL(a adapter.Adapter, cfg Config) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return a.DefaultBaseURL()
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
