// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package server owns the gateway's HTTP lifecycle: it assembles the
// collaborators, binds the listener, and rebuilds the route table when
// the mounted path set changes under it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isboyjc/amux/internal/bridge"
	"github.com/isboyjc/amux/internal/mapping"
	"github.com/isboyjc/amux/internal/metrics"
	"github.com/isboyjc/amux/internal/reqlog"
	"github.com/isboyjc/amux/internal/router"
	"github.com/isboyjc/amux/internal/store"
	"github.com/isboyjc/amux/internal/version"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Options wire the server. Store is required.
type Options struct {
	Store  *store.Store
	Logger *slog.Logger
	// Client overrides the upstream HTTP client, mainly for tests.
	Client *http.Client
}

// Server assembles the gateway and serves it over one listener.
type Server struct {
	store  *store.Store
	logger *slog.Logger

	cache  *bridge.Cache
	mapper *mapping.Engine
	sink   *metrics.Sink
	mprov  *metrics.Provider
	ring   *reqlog.Ring
	logs   *reqlog.Pipeline
	router *router.Router

	// routes is the current gateway route table, swapped atomically when
	// a config reload changes the mounted paths.
	routes atomic.Pointer[http.ServeMux]

	mu         sync.Mutex
	httpSrv    *http.Server
	ln         net.Listener
	serveErr   error
	wg         sync.WaitGroup
	cancelLogs context.CancelFunc
	startedAt  time.Time
}

// New builds a server over the store and subscribes it to config
// changes.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mprov, err := metrics.NewProviderFromEnv()
	if err != nil {
		return nil, err
	}

	logCfg := opts.Store.Settings().Logs
	ring := reqlog.NewRing(logCfg.MaxEntries, logCfg.RetentionDays)
	logs := reqlog.NewPipeline(ring, func() store.LogSettings {
		return opts.Store.Settings().Logs
	}, logger)

	s := &Server{
		store:  opts.Store,
		logger: logger,
		cache:  bridge.NewCache(bridge.DefaultCacheSize),
		mapper: mapping.NewEngine(opts.Store),
		sink:   metrics.NewSink(),
		mprov:  mprov,
		ring:   ring,
		logs:   logs,
	}
	s.router = router.New(router.Options{
		Store:  opts.Store,
		Cache:  s.cache,
		Mapper: s.mapper,
		Logs:   logs,
		Sink:   s.sink,
		GenAI:  metrics.NewGenAI(mprov.Meter()),
		Client: opts.Client,
		Logger: logger,
	})
	s.routes.Store(http.NewServeMux())

	opts.Store.Subscribe(s.onConfigChange)
	return s, nil
}

// onConfigChange invalidates the caches touched by a reload and swaps
// the route table when the mounted path set changed.
func (s *Server) onConfigChange(ch store.Change) {
	for _, id := range ch.ProviderIDs {
		s.cache.InvalidateProvider(id)
	}
	for _, id := range ch.ProxyIDs {
		s.cache.Invalidate(id)
	}
	for _, ct := range ch.CLITypes {
		s.mapper.Invalidate(ct)
	}
	if ch.RoutesChanged {
		s.routes.Store(s.router.Routes())
		s.logger.Info("route table rebuilt")
	}
}

// Handler is the full route tree: status endpoints on top, the gateway
// routes behind them, CORS around everything.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	if h := s.mprov.Handler(); h != nil {
		mux.Handle("GET /metrics", h)
	}
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.routes.Load().ServeHTTP(w, r)
	}))
	return s.withCORS(mux)
}

// Start binds the listener and begins serving. Routes are fully
// installed before the first accept.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("server already started")
	}

	set := s.store.Settings()
	addr := net.JoinHostPort(set.Proxy.Host, strconv.Itoa(set.Proxy.Port))

	s.cache.Clear()
	s.routes.Store(s.router.Routes())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	// The log pipeline outlives the request context but stops with the
	// server.
	logCtx, cancelLogs := context.WithCancel(context.WithoutCancel(ctx))
	s.logs.Start(logCtx)
	s.cancelLogs = cancelLogs

	s.sink.Reset()
	s.startedAt = time.Now()
	s.ln = ln
	s.serveErr = nil
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	srv := s.httpSrv
	go func() {
		defer s.wg.Done()
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("serve failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down, waits for in-flight requests, and drops
// the route table. A stopped server can Start again.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	cancelLogs := s.cancelLogs
	s.httpSrv = nil
	s.ln = nil
	s.cancelLogs = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if cancelLogs != nil {
		cancelLogs()
	}
	s.logs.Flush()
	s.routes.Store(http.NewServeMux())

	s.mu.Lock()
	if err == nil {
		err = s.serveErr
	}
	s.mu.Unlock()
	return err
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.Stop(stopCtx)
	if serr := s.mprov.Shutdown(context.Background()); err == nil {
		err = serr
	}
	return err
}

// RequestLogs returns the newest request-log entries, up to limit.
func (s *Server) RequestLogs(limit int) []reqlog.Record {
	s.logs.Flush()
	return s.ring.List(limit)
}

// statusPage is the GET / body.
type statusPage struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Status    string `json:"status"`
	UptimeMS  int64  `json:"uptimeMs"`
	Proxies   int    `json:"proxies"`
	Providers int    `json:"providers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	writeJSON(w, statusPage{
		Name:      "amux",
		Version:   version.Parse(),
		Status:    "ok",
		UptimeMS:  uptimeMS(started),
		Proxies:   len(s.store.Proxies()),
		Providers: len(s.store.Providers()),
	})
}

// healthPage is the GET /health body.
type healthPage struct {
	Status   string           `json:"status"`
	UptimeMS int64            `json:"uptimeMs"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	writeJSON(w, healthPage{
		Status:   "ok",
		UptimeMS: uptimeMS(started),
		Metrics:  s.sink.Snapshot(),
	})
}

func uptimeMS(started time.Time) int64 {
	if started.IsZero() {
		return 0
	}
	return time.Since(started).Milliseconds()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
