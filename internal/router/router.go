// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package router mounts the gateway's local routes and drives the
// request lifecycle: auth, resolution, mapping, bridge execution, and
// the observability records on completion.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/isboyjc/amux/internal/adapter"
	"github.com/isboyjc/amux/internal/bridge"
	"github.com/isboyjc/amux/internal/mapping"
	"github.com/isboyjc/amux/internal/metrics"
	"github.com/isboyjc/amux/internal/reqlog"
	"github.com/isboyjc/amux/internal/store"
)

// Options wire the router's collaborators. All are required except
// Client and Logger.
type Options struct {
	Store  *store.Store
	Cache  *bridge.Cache
	Mapper *mapping.Engine
	Logs   *reqlog.Pipeline
	Sink   *metrics.Sink
	GenAI  *metrics.GenAI
	Client *http.Client
	Logger *slog.Logger
}

// Router builds the route table and serves the request lifecycle.
type Router struct {
	store  *store.Store
	cache  *bridge.Cache
	mapper *mapping.Engine
	logs   *reqlog.Pipeline
	sink   *metrics.Sink
	genai  *metrics.GenAI
	client *http.Client
	logger *slog.Logger
}

// New builds a router over the given collaborators.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  opts.Store,
		cache:  opts.Cache,
		mapper: opts.Mapper,
		logs:   opts.Logs,
		sink:   opts.Sink,
		genai:  opts.GenAI,
		client: opts.Client,
		logger: logger,
	}
}

// Routes builds a fresh mux from the store's current rows. The server
// swaps it in atomically whenever the mounted path set changes.
func (rt *Router) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /code/{cliType}/v1/messages", rt.handleCodeSwitch)
	mux.HandleFunc("GET /v1/proxies", rt.handleListProxies)

	for _, p := range rt.store.Providers() {
		if !p.Enabled || !p.Passthrough {
			continue
		}
		providerID := p.ID
		a, ok := adapter.ForName(p.AdapterType)
		if !ok {
			continue
		}
		chatPath := p.ChatPath
		if chatPath == "" {
			chatPath = a.DefaultChatPath()
		}
		mux.HandleFunc("POST /providers/"+p.Path+mountPattern(chatPath), func(w http.ResponseWriter, r *http.Request) {
			rt.handlePassthrough(w, r, providerID)
		})
		mux.HandleFunc("GET /providers/"+p.Path+"/v1/models", func(w http.ResponseWriter, r *http.Request) {
			rt.handleProviderModels(w, r, providerID)
		})
	}

	for _, px := range rt.store.Proxies() {
		if !px.Enabled {
			continue
		}
		proxyID := px.ID
		mux.HandleFunc("POST /proxies/"+px.Path+mountPattern(adapter.InboundEndpoint(px.InboundAdapter)),
			func(w http.ResponseWriter, r *http.Request) {
				rt.handleConversion(w, r, proxyID)
			})
		mux.HandleFunc("GET /proxies/"+px.Path+"/v1/models", func(w http.ResponseWriter, r *http.Request) {
			rt.handleProxyModels(w, r, proxyID)
		})
	}

	return mux
}

// mountPattern rewrites an upstream-style chat path into a ServeMux
// pattern. A `{model}:<action>` segment cannot be a single path
// parameter, so it mounts as a trailing wildcard and the handler splits
// model from action.
func mountPattern(path string) string {
	if i := strings.Index(path, "{model}"); i >= 0 && strings.HasPrefix(path[i+len("{model}"):], ":") {
		return path[:i] + "{modelAction...}"
	}
	return path
}

// urlModelAction extracts the model and action from the request path for
// Google-style `{model}:<action>` mounts.
func urlModelAction(r *http.Request) (model, action string) {
	if rest := r.PathValue("modelAction"); rest != "" {
		if i := strings.LastIndex(rest, ":"); i >= 0 {
			return rest[:i], rest[i+1:]
		}
		return rest, ""
	}
	return r.PathValue("model"), ""
}

// modelList is the OpenAI-style model listing envelope.
// https://platform.openai.com/docs/api-reference/models/list
type modelList struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

func writeModelList(w http.ResponseWriter, owner string, models []string) {
	list := modelList{Object: "list", Data: make([]modelInfo, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, modelInfo{ID: m, Object: "model", OwnedBy: owner})
	}
	writeJSON(w, http.StatusOK, &list)
}

func (rt *Router) handleProviderModels(w http.ResponseWriter, r *http.Request, providerID string) {
	p, ok := rt.store.Provider(providerID)
	if !ok || !p.Enabled {
		http.NotFound(w, r)
		return
	}
	writeModelList(w, p.AdapterType, p.Models)
}

// handleProxyModels serves the models reachable through a proxy: the
// bottom provider's list, with the proxy's mapped source models exposed
// in place of their targets.
func (rt *Router) handleProxyModels(w http.ResponseWriter, r *http.Request, proxyID string) {
	chain, err := rt.resolveChain(proxyID)
	if err != nil {
		status, body := errorEnvelope(adapter.NameOpenAI, err)
		writeRaw(w, status, body)
		return
	}
	bysource, _ := rt.store.ProxyMappings(chain.Bottom().ID)
	models := make([]string, 0, len(chain.Provider.Models)+len(bysource))
	for src := range bysource {
		models = append(models, src)
	}
	for _, m := range chain.Provider.Models {
		models = append(models, m)
	}
	writeModelList(w, chain.Provider.AdapterType, models)
}

// proxyListing is one row of GET /v1/proxies.
type proxyListing struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Path           string `json:"path"`
	InboundAdapter string `json:"inboundAdapter"`
	Endpoint       string `json:"endpoint"`
	Enabled        bool   `json:"enabled"`
}

func (rt *Router) handleListProxies(w http.ResponseWriter, _ *http.Request) {
	proxies := rt.store.Proxies()
	out := make([]proxyListing, 0, len(proxies))
	for _, px := range proxies {
		if !px.Enabled {
			continue
		}
		out = append(out, proxyListing{
			ID:             px.ID,
			Name:           px.Name,
			Path:           px.Path,
			InboundAdapter: px.InboundAdapter,
			Endpoint:       "/proxies/" + px.Path + adapter.InboundEndpoint(px.InboundAdapter),
			Enabled:        px.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
