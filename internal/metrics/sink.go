// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package metrics keeps the gateway's request counters: an in-memory
// sink for the status page, and OpenTelemetry gen-ai instruments for
// external scraping.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow bounds the per-scope latency sample buffer; percentiles
// come from a full sort of this window on read.
const latencyWindow = 1000

// rpmWindow is the rolling window for the requests-per-minute gauge.
const rpmWindow = time.Minute

// Counters is one scope's running totals.
type Counters struct {
	Total        uint64 `json:"total"`
	Success      uint64 `json:"success"`
	Failed       uint64 `json:"failed"`
	InputTokens  uint64 `json:"inputTokens"`
	OutputTokens uint64 `json:"outputTokens"`
}

// Percentiles are latency quantiles in milliseconds.
type Percentiles struct {
	P50 int64 `json:"p50"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// Snapshot is a point-in-time view served on the status endpoints.
type Snapshot struct {
	Global            Counters            `json:"global"`
	PerProxy          map[string]Counters `json:"perProxy,omitempty"`
	PerProvider       map[string]Counters `json:"perProvider,omitempty"`
	Latency           Percentiles         `json:"latency"`
	RequestsPerMinute int                 `json:"requestsPerMinute"`
	ActiveConnections int64               `json:"activeConnections"`
}

// Sink accumulates request outcomes. The zero value is not usable; use
// NewSink.
type Sink struct {
	mu          sync.Mutex
	global      Counters
	perProxy    map[string]Counters
	perProvider map[string]Counters
	latencies   []int64
	recent      []time.Time
	active      int64
	now         func() time.Time
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{
		perProxy:    map[string]Counters{},
		perProvider: map[string]Counters{},
		now:         time.Now,
	}
}

// Outcome is one finished request as the sink sees it.
type Outcome struct {
	// ProxyID scopes per-proxy counters; empty for passthrough and
	// code-switch requests.
	ProxyID string
	// ProviderID scopes per-provider counters.
	ProviderID   string
	Success      bool
	InputTokens  uint32
	OutputTokens uint32
	Latency      time.Duration
}

// Record folds one outcome into the counters.
func (s *Sink) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c Counters) Counters {
		c.Total++
		if o.Success {
			c.Success++
		} else {
			c.Failed++
		}
		c.InputTokens += uint64(o.InputTokens)
		c.OutputTokens += uint64(o.OutputTokens)
		return c
	}
	s.global = bump(s.global)
	if o.ProxyID != "" {
		s.perProxy[o.ProxyID] = bump(s.perProxy[o.ProxyID])
	}
	if o.ProviderID != "" {
		s.perProvider[o.ProviderID] = bump(s.perProvider[o.ProviderID])
	}

	s.latencies = append(s.latencies, o.Latency.Milliseconds())
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}

	now := s.now()
	s.recent = append(s.recent, now)
	s.pruneRecent(now)
}

// ConnOpened counts a streaming or request connection going active.
func (s *Sink) ConnOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
}

// ConnClosed is the paired decrement.
func (s *Sink) ConnClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

// Snapshot returns a copy of everything, percentiles computed on the
// spot.
func (s *Sink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneRecent(now)

	snap := Snapshot{
		Global:            s.global,
		PerProxy:          make(map[string]Counters, len(s.perProxy)),
		PerProvider:       make(map[string]Counters, len(s.perProvider)),
		Latency:           percentiles(s.latencies),
		RequestsPerMinute: len(s.recent),
		ActiveConnections: s.active,
	}
	for k, v := range s.perProxy {
		snap.PerProxy[k] = v
	}
	for k, v := range s.perProvider {
		snap.PerProvider[k] = v
	}
	return snap
}

// Reset clears everything; the server calls it on start so a restart
// begins a fresh window.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = Counters{}
	clear(s.perProxy)
	clear(s.perProvider)
	s.latencies = nil
	s.recent = nil
	s.active = 0
}

func (s *Sink) pruneRecent(now time.Time) {
	cutoff := now.Add(-rpmWindow)
	i := 0
	for i < len(s.recent) && s.recent[i].Before(cutoff) {
		i++
	}
	s.recent = s.recent[i:]
}

func percentiles(samples []int64) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(q float64) int64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}
	return Percentiles{P50: at(0.50), P95: at(0.95), P99: at(0.99)}
}
