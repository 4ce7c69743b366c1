// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package server

import (
	"net/http"
	"slices"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Request-ID"
)

// withCORS applies the configured cross-origin policy around next.
// Settings are read per request so a reload takes effect without a
// restart.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.store.Settings().Proxy.CORS
		origin := r.Header.Get("Origin")
		if cfg.Enabled && origin != "" {
			if allowed := corsOrigin(cfg.Origins, origin); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsOrigin returns the Allow-Origin value for origin, empty when the
// allow-list rejects it.
func corsOrigin(allowlist []string, origin string) string {
	if slices.Contains(allowlist, "*") {
		return "*"
	}
	if slices.Contains(allowlist, origin) {
		return origin
	}
	return ""
}
