// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package resolver walks a proxy's outbound chain down to the provider
// that actually serves the request.
package resolver

import (
	"github.com/isboyjc/amux/internal/ir"
	"github.com/isboyjc/amux/internal/store"
)

// Chain is a fully resolved proxy chain: the proxies traversed top to
// bottom and the provider at the bottom.
type Chain struct {
	// Proxies are the hops in traversal order; the first entry is the one
	// the request hit.
	Proxies []store.Proxy
	// Provider is the upstream endpoint at the bottom.
	Provider store.Provider
}

// Top returns the entry proxy.
func (c *Chain) Top() store.Proxy { return c.Proxies[0] }

// Bottom returns the proxy adjacent to the provider. Its model mappings
// are the only ones that apply; intermediate hops forward models
// untouched.
func (c *Chain) Bottom() store.Proxy { return c.Proxies[len(c.Proxies)-1] }

// FindBottomProvider resolves the chain and reports only the terminal
// provider id and the number of proxy hops.
func FindBottomProvider(s *store.Store, proxyID string) (providerID string, hops int, err error) {
	chain, err := Resolve(s, proxyID)
	if err != nil {
		return "", 0, err
	}
	return chain.Provider.ID, len(chain.Proxies), nil
}

// Resolve walks the chain starting at proxyID. Every hop must exist and
// be enabled, and a hop may not appear twice.
func Resolve(s *store.Store, proxyID string) (*Chain, error) {
	var chain Chain
	visited := map[string]struct{}{}
	id := proxyID
	for {
		if _, seen := visited[id]; seen {
			return nil, ir.GatewayErrorf(ir.CodeCircularProxy, "proxy chain loops back to %q", id)
		}
		visited[id] = struct{}{}

		px, ok := s.Proxy(id)
		if !ok {
			return nil, ir.GatewayErrorf(ir.CodeProxyNotFound, "proxy %q not found", id)
		}
		if !px.Enabled {
			return nil, ir.GatewayErrorf(ir.CodeProxyDisabled, "proxy %q is disabled", id)
		}
		chain.Proxies = append(chain.Proxies, px)

		switch px.OutboundKind {
		case store.OutboundProxy:
			id = px.OutboundID
		case store.OutboundProvider:
			p, ok := s.Provider(px.OutboundID)
			if !ok {
				return nil, ir.GatewayErrorf(ir.CodeProviderNotFound, "provider %q not found", px.OutboundID)
			}
			if !p.Enabled {
				return nil, ir.GatewayErrorf(ir.CodeProviderDisabled, "provider %q is disabled", p.ID)
			}
			chain.Provider = p
			return &chain, nil
		default:
			return nil, ir.GatewayErrorf(ir.CodeInternalError, "proxy %q: unknown outbound kind %q", px.ID, px.OutboundKind)
		}
	}
}
