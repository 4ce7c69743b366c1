// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package router

import (
	"net/http"
	"strings"

	"github.com/isboyjc/amux/internal/ir"
)

// PlatformKeyPrefix marks gateway-issued keys in the auth gate.
const PlatformKeyPrefix = "sk-amux."

// Request sources.
const (
	sourceLocal  = "local"
	sourceTunnel = "tunnel"
)

// detectSource classifies the request origin. Cloudflare tunnel headers
// mark remote traffic; everything else is local.
func detectSource(r *http.Request) string {
	if r.Header.Get("cf-ray") != "" || r.Header.Get("cf-connecting-ip") != "" || r.Header.Get("cf-visitor") != "" {
		return sourceTunnel
	}
	return sourceLocal
}

// extractKey pulls the client credential: Bearer token, then a plain
// Authorization value, then x-api-key.
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return strings.TrimSpace(auth)
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

// authDecision is the auth gate outcome.
type authDecision struct {
	// UpstreamKey is the client key to send upstream verbatim; empty
	// means use the provider's stored credential.
	UpstreamKey string
	// BypassCache is set for pass-through credentials: a client-owned key
	// must never share a cached bridge built on the stored key.
	BypassCache bool
}

// authenticate runs the auth gate. With the unified key disabled every
// request uses the stored credential. Enabled, a key is required: a
// platform key validates against the key table, anything else passes
// through to the upstream. Local requests presenting no key at all are
// internal traffic and skip validation.
func (rt *Router) authenticate(r *http.Request, source string) (authDecision, error) {
	key := extractKey(r)
	if !rt.store.Settings().Security.UnifiedAPIKey.Enabled {
		return authDecision{}, nil
	}
	if key == "" {
		if source == sourceLocal {
			// Internal shortcut for the local UI and health tooling.
			return authDecision{}, nil
		}
		return authDecision{}, ir.NewGatewayError(ir.CodeMissingAPIKey, "an API key is required")
	}
	if strings.HasPrefix(key, PlatformKeyPrefix) {
		pk, ok := rt.store.PlatformKeyBySecret(key)
		if !ok || !pk.Enabled {
			return authDecision{}, ir.NewGatewayError(ir.CodeInvalidAPIKey, "invalid or disabled API key")
		}
		rt.store.TouchPlatformKey(pk.ID)
		return authDecision{}, nil
	}
	// A non-platform key belongs to the upstream account of the caller.
	return authDecision{UpstreamKey: key, BypassCache: true}, nil
}
