// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package reqlog buffers per-request log records and flushes them to a
// sink in batches, keeping the request hot path free of sink latency.
package reqlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/isboyjc/amux/internal/store"
)

// Flush cadence: whichever of the two comes first.
const (
	flushInterval = 5 * time.Second
	flushAt       = 100
)

// truncationSuffix marks a body cut at maxBodySize.
const truncationSuffix = "…[truncated]"

// Record is one completed request.
type Record struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	// ProxyID is set for conversion-proxy requests.
	ProxyID string `json:"proxyId,omitempty"`
	// Route is the mounted path for passthrough and code-switch requests.
	Route string `json:"route,omitempty"`
	// Source is local or tunnel.
	Source      string `json:"source"`
	SourceModel string `json:"sourceModel,omitempty"`
	TargetModel string `json:"targetModel,omitempty"`
	StatusCode  int    `json:"statusCode"`
	Stream      bool   `json:"stream,omitempty"`
	InputTokens uint32 `json:"inputTokens,omitempty"`
	// OutputTokens may be estimated when the upstream reported none.
	OutputTokens uint32 `json:"outputTokens,omitempty"`
	LatencyMS    int64  `json:"latencyMs"`
	RequestBody  string `json:"requestBody,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Sink receives flushed batches. Append must either take the whole batch
// or fail it; partial writes are treated as failure.
type Sink interface {
	Append(records []Record) error
}

// SettingsFunc returns the current log settings; the pipeline consults
// it at record and flush time so store reloads apply without restarts.
type SettingsFunc func() store.LogSettings

// Pipeline is the buffered record writer.
type Pipeline struct {
	sink     Sink
	settings SettingsFunc
	logger   *slog.Logger

	mu  sync.Mutex
	buf []Record
}

// NewPipeline builds a pipeline over sink. Call Start to begin the
// periodic flush loop.
func NewPipeline(sink Sink, settings SettingsFunc, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{sink: sink, settings: settings, logger: logger}
}

// Start runs the periodic flush until ctx is canceled, then flushes one
// last time.
func (p *Pipeline) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-ticker.C:
				p.flush()
			}
		}
	}()
}

// Log records one request. Bodies are truncated to the configured size
// before buffering; a full buffer flushes inline.
func (p *Pipeline) Log(r Record) {
	cfg := p.settings()
	if !cfg.Enabled {
		return
	}
	if !cfg.SaveRequestBody {
		r.RequestBody = ""
	} else {
		r.RequestBody = truncate(r.RequestBody, cfg.MaxBodySize)
	}
	if !cfg.SaveResponseBody {
		r.ResponseBody = ""
	} else {
		r.ResponseBody = truncate(r.ResponseBody, cfg.MaxBodySize)
	}

	p.mu.Lock()
	p.buf = append(p.buf, r)
	full := len(p.buf) >= flushAt
	p.mu.Unlock()
	if full {
		p.flush()
	}
}

// Flush forces a flush, for shutdown and tests.
func (p *Pipeline) Flush() { p.flush() }

// flush swaps the buffer out under the lock and writes outside it. A
// failed write re-prepends the batch so nothing is lost; a flush while
// logging is disabled discards the batch.
func (p *Pipeline) flush() {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if !p.settings().Enabled {
		return
	}
	if err := p.sink.Append(batch); err != nil {
		p.logger.Error("failed to flush request log batch",
			slog.Int("records", len(batch)), slog.String("error", err.Error()))
		p.mu.Lock()
		p.buf = append(batch, p.buf...)
		p.mu.Unlock()
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never emits invalid UTF-8.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + truncationSuffix
}
