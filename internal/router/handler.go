// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package router

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/isboyjc/amux/internal/adapter"
	"github.com/isboyjc/amux/internal/bridge"
	"github.com/isboyjc/amux/internal/ir"
	"github.com/isboyjc/amux/internal/metrics"
	"github.com/isboyjc/amux/internal/reqlog"
	"github.com/isboyjc/amux/internal/resolver"
	"github.com/isboyjc/amux/internal/store"
	"github.com/isboyjc/amux/internal/tokencount"
)

// call carries everything the shared lifecycle needs once the route
// handler has resolved its bridge.
type call struct {
	requestID string
	source    string
	// proxyID scopes per-proxy metrics; empty for passthrough and code
	// routes.
	proxyID    string
	providerID string
	route      string
	bridge     *bridge.Bridge
	req        *ir.Request
	// originalModel is the model before mapping.
	originalModel string
	// stream is the computed streaming decision, URL variants included.
	stream bool
}

func (rt *Router) handleConversion(w http.ResponseWriter, r *http.Request, proxyID string) {
	dialect := adapter.NameOpenAI
	if px, ok := rt.store.Proxy(proxyID); ok {
		dialect = px.InboundAdapter
	}
	rt.serve(w, r, dialect, func(c *call, body []byte, auth authDecision) error {
		chain, err := rt.resolveChain(proxyID)
		if err != nil {
			return err
		}
		inboundName := chain.Top().InboundAdapter
		c.proxyID = chain.Top().ID
		c.providerID = chain.Provider.ID
		c.route = "/proxies/" + chain.Top().Path

		b, err := rt.bridgeFor(inboundName, chain.Provider, chain.Top().ID, auth)
		if err != nil {
			return err
		}
		c.bridge = b
		if err := rt.parseBody(c, r, body, inboundName); err != nil {
			return err
		}
		c.req.Model = rt.mapper.MapProxyModel(chain.Bottom().ID, c.req.Model)
		return nil
	})
}

func (rt *Router) handlePassthrough(w http.ResponseWriter, r *http.Request, providerID string) {
	dialect := adapter.NameOpenAI
	if p, ok := rt.store.Provider(providerID); ok {
		dialect = p.AdapterType
	}
	rt.serve(w, r, dialect, func(c *call, body []byte, auth authDecision) error {
		p, ok := rt.store.Provider(providerID)
		if !ok {
			return ir.GatewayErrorf(ir.CodeProviderNotFound, "provider %q not found", providerID)
		}
		if !p.Enabled {
			return ir.GatewayErrorf(ir.CodeProviderDisabled, "provider %q is disabled", p.ID)
		}
		c.providerID = p.ID
		c.route = "/providers/" + p.Path

		// Passthrough: the same dialect on both sides, no conversion.
		b, err := rt.newBridge(p.AdapterType, p, auth)
		if err != nil {
			return err
		}
		c.bridge = b
		return rt.parseBody(c, r, body, p.AdapterType)
	})
}

func (rt *Router) handleCodeSwitch(w http.ResponseWriter, r *http.Request) {
	cliType := r.PathValue("cliType")
	if cliType != store.CLIClaudeCode && cliType != store.CLICodex {
		http.NotFound(w, r)
		return
	}
	rt.serve(w, r, adapter.NameAnthropic, func(c *call, body []byte, auth authDecision) error {
		c.route = "/code/" + cliType
		// Code-assistant CLIs speak the Messages dialect on this route,
		// so the request parses before a provider is known.
		a, _ := adapter.ForName(adapter.NameAnthropic)
		req, err := a.ParseRequest(body)
		if err != nil {
			return ir.GatewayErrorf(ir.CodeInvalidRequest, "cannot parse %s request: %w", adapter.NameAnthropic, err)
		}
		c.req = req
		c.originalModel = req.Model
		c.stream = req.Stream

		reasoning := c.req.Generation.Reasoning != nil && c.req.Generation.Reasoning.Enabled
		res, err := rt.mapper.ResolveCodeSwitch(cliType, c.req.Model, reasoning)
		if err != nil {
			return err
		}

		var p store.Provider
		var ok bool
		if res.AdapterType != "" {
			if p, ok = rt.store.ProviderByAdapterType(res.AdapterType); !ok {
				return ir.GatewayErrorf(ir.CodeProviderNotFound, "no enabled provider of type %q", res.AdapterType)
			}
		} else {
			if p, ok = rt.store.Provider(res.ProviderID); !ok {
				return ir.GatewayErrorf(ir.CodeProviderNotFound, "provider %q not found", res.ProviderID)
			}
			if !p.Enabled {
				return ir.GatewayErrorf(ir.CodeProviderDisabled, "provider %q is disabled", p.ID)
			}
		}
		c.providerID = p.ID

		b, err := rt.newBridge(adapter.NameAnthropic, p, auth)
		if err != nil {
			return err
		}
		c.bridge = b
		c.req.Model = res.Model
		return nil
	})
}

// resolveChain wraps resolver.Resolve for handlers.
func (rt *Router) resolveChain(proxyID string) (*resolver.Chain, error) {
	return resolver.Resolve(rt.store, proxyID)
}

// bridgeFor returns the cached bridge for a conversion route, building
// and caching one on miss. Pass-through credentials bypass the cache.
func (rt *Router) bridgeFor(inboundName string, p store.Provider, proxyID string, auth authDecision) (*bridge.Bridge, error) {
	if auth.BypassCache || p.IsPool {
		return rt.buildBridge(inboundName, p, auth)
	}
	if b, ok := rt.cache.Get(proxyID, p.ID); ok {
		return b, nil
	}
	b, err := rt.buildBridge(inboundName, p, auth)
	if err != nil {
		return nil, err
	}
	rt.cache.Put(proxyID, p.ID, b)
	return b, nil
}

// newBridge builds an uncached bridge; passthrough and code routes use
// it for every request.
func (rt *Router) newBridge(inboundName string, p store.Provider, auth authDecision) (*bridge.Bridge, error) {
	return rt.buildBridge(inboundName, p, auth)
}

func (rt *Router) buildBridge(inboundName string, p store.Provider, auth authDecision) (*bridge.Bridge, error) {
	inbound, ok := adapter.ForName(inboundName)
	if !ok {
		return nil, ir.GatewayErrorf(ir.CodeInternalError, "unknown inbound adapter %q", inboundName)
	}
	outbound, ok := adapter.ForName(p.AdapterType)
	if !ok {
		return nil, ir.GatewayErrorf(ir.CodeInternalError, "unknown adapter type %q", p.AdapterType)
	}
	key := auth.UpstreamKey
	if key == "" {
		stored, err := rt.store.APIKey(p)
		if err != nil {
			return nil, ir.GatewayErrorf(ir.CodeInternalError, "cannot decrypt credential for provider %q: %w", p.ID, err)
		}
		key = stored
	}
	cfg := bridge.Config{
		APIKey:   key,
		BaseURL:  p.BaseURL,
		ChatPath: p.ChatPath,
		Timeout:  rt.store.Settings().Proxy.Timeout(),
	}
	return bridge.New(inbound, outbound, cfg, bridge.Hooks{}, rt.client, rt.logger), nil
}

// parseBody injects the URL model for Google-style mounts, parses the
// wire request, and computes the streaming decision.
func (rt *Router) parseBody(c *call, r *http.Request, body []byte, inboundName string) error {
	urlModel, action := urlModelAction(r)
	if inboundName == adapter.NameGoogle && urlModel != "" && !gjson.GetBytes(body, "model").Exists() {
		injected, err := sjson.SetBytes(body, "model", urlModel)
		if err == nil {
			body = injected
		}
	}
	req, err := c.bridge.ParseRequest(body)
	if err != nil {
		return err
	}
	c.req = req
	c.originalModel = req.Model
	c.stream = req.Stream
	if inboundName == adapter.NameGoogle {
		// Google has no stream flag in the body; the URL decides.
		c.stream = strings.Contains(strings.ToLower(action), "stream") || r.URL.Query().Get("alt") == "sse"
	}
	return nil
}

// serve runs the shared lifecycle around a route-specific prepare step.
func (rt *Router) serve(w http.ResponseWriter, r *http.Request, dialect string, prepare func(c *call, body []byte, auth authDecision) error) {
	start := time.Now()
	c := &call{requestID: uuid.NewString(), source: detectSource(r)}
	w.Header().Set("X-Request-ID", c.requestID)
	logger := rt.logger.With(
		slog.String("requestID", c.requestID),
		slog.String("path", r.URL.Path),
		slog.String("source", c.source),
	)

	rt.sink.ConnOpened()
	defer rt.sink.ConnClosed()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rt.fail(w, r, c, dialect, start, string(body), ir.GatewayErrorf(ir.CodeInvalidRequest, "cannot read request body: %w", err))
		return
	}

	auth, err := rt.authenticate(r, c.source)
	if err != nil {
		rt.fail(w, r, c, dialect, start, string(body), err)
		return
	}

	if err := prepare(c, body, auth); err != nil {
		rt.fail(w, r, c, dialect, start, string(body), err)
		return
	}

	inboundName := c.bridge.Inbound().Name()
	mcall := metrics.Call{
		Provider:      c.bridge.Outbound().Name(),
		RequestModel:  c.req.Model,
		OriginalModel: c.originalModel,
	}

	if c.stream {
		rt.serveStream(w, r, c, logger, start, mcall, string(body))
		return
	}

	wire, result, err := c.bridge.Chat(r.Context(), c.req)
	if err != nil {
		logger.Warn("request failed", slog.String("error", err.Error()))
		status, envelope := errorEnvelope(inboundName, err)
		rt.finish(c, start, string(body), "", result, status, err, mcall, r)
		writeRaw(w, status, envelope)
		return
	}
	rt.finish(c, start, string(body), string(wire), result, http.StatusOK, nil, mcall, r)
	writeRaw(w, http.StatusOK, wire)
}

// serveStream writes SSE frames as they arrive. Headers go out lazily
// on the first frame so a pre-stream failure still gets a JSON error
// with a real status code.
func (rt *Router) serveStream(w http.ResponseWriter, r *http.Request, c *call, logger *slog.Logger, start time.Time, mcall metrics.Call, reqBody string) {
	inboundName := c.bridge.Inbound().Name()
	framing := c.bridge.Inbound().Framing()
	flusher, _ := w.(http.Flusher)

	headersSent := false
	var firstFrame time.Time
	var streamed strings.Builder
	write := func(f adapter.Frame) error {
		if !headersSent {
			headersSent = true
			firstFrame = time.Now()
			h := w.Header()
			h.Set("Content-Type", "text/event-stream")
			h.Set("Cache-Control", "no-cache")
			h.Set("Connection", "keep-alive")
			h.Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := w.Write(renderFrame(framing, f)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	// Accumulate assistant text for token estimation when the upstream
	// reports no usage.
	onEvent := func(ev ir.StreamEvent) {
		if ev.Type == ir.StreamContent {
			streamed.WriteString(ev.Delta)
		}
	}

	result, err := c.bridge.WithStreamHook(onEvent).ChatStream(r.Context(), c.req, write)
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		logger.Warn("stream failed", slog.String("error", err.Error()))
		if !headersSent {
			s, envelope := errorEnvelope(inboundName, err)
			writeRaw(w, s, envelope)
			status = s
		}
	}
	if result.Usage.IsZero() {
		result.Usage = estimateUsage(c.req, streamed.String())
	}
	if !firstFrame.IsZero() {
		rt.genai.RecordFirstToken(r.Context(), mcall, firstFrame.Sub(start))
	}
	rt.finish(c, start, reqBody, streamed.String(), result, status, err, mcall, r)
}

// finish emits the log record and both metric sinks.
func (rt *Router) finish(c *call, start time.Time, reqBody, respBody string, result bridge.Result, status int, err error, mcall metrics.Call, r *http.Request) {
	latency := time.Since(start)
	usage := result.Usage
	if usage.IsZero() && err == nil {
		usage = estimateUsage(c.req, respBody)
	}

	var errStr string
	if err != nil {
		errStr = err.Error()
	}

	rt.sink.Record(metrics.Outcome{
		ProxyID:      c.proxyID,
		ProviderID:   c.providerID,
		Success:      err == nil,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Latency:      latency,
	})
	if !usage.IsZero() {
		rt.genai.RecordTokens(r.Context(), mcall, usage)
	}
	rt.genai.RecordRequest(r.Context(), mcall, latency, metrics.ErrorType(err))

	rt.logs.Log(reqlog.Record{
		ID:           c.requestID,
		Time:         start,
		ProxyID:      c.proxyID,
		Route:        c.route,
		Source:       c.source,
		SourceModel:  c.originalModel,
		TargetModel:  modelOrEmpty(c),
		StatusCode:   status,
		Stream:       c.stream,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		LatencyMS:    latency.Milliseconds(),
		RequestBody:  reqBody,
		ResponseBody: respBody,
		Error:        errStr,
	})
}

// fail handles errors raised before a bridge exists.
func (rt *Router) fail(w http.ResponseWriter, r *http.Request, c *call, dialect string, start time.Time, reqBody string, err error) {
	rt.logger.Warn("request rejected",
		slog.String("requestID", c.requestID),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	status, envelope := errorEnvelope(dialect, err)
	rt.finish(c, start, reqBody, "", bridge.Result{}, status, err, metrics.Call{}, r)
	writeRaw(w, status, envelope)
}

func modelOrEmpty(c *call) string {
	if c.req != nil {
		return c.req.Model
	}
	return ""
}

// estimateUsage fills missing token counts from text lengths.
func estimateUsage(req *ir.Request, respText string) ir.Usage {
	var u ir.Usage
	if req != nil {
		var prompt strings.Builder
		prompt.WriteString(req.System)
		for _, m := range req.Messages {
			prompt.WriteString(ir.JoinText(m.Content))
		}
		u.PromptTokens = tokencount.Estimate(prompt.String())
	}
	u.CompletionTokens = tokencount.Estimate(respText)
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// renderFrame serializes one SSE frame per the inbound framing rules.
func renderFrame(framing adapter.Framing, f adapter.Frame) []byte {
	if f.Done {
		return []byte("data: [DONE]\n\n")
	}
	var sb strings.Builder
	if framing.EventPrefixed && f.Event != "" {
		sb.WriteString("event: ")
		sb.WriteString(f.Event)
		sb.WriteString("\n")
	}
	sb.WriteString("data: ")
	sb.Write(f.Data)
	sb.WriteString("\n\n")
	return []byte(sb.String())
}
