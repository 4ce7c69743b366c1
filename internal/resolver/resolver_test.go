// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isboyjc/amux/internal/ir"
	"github.com/isboyjc/amux/internal/store"
)

const chainConfig = `
providers:
  - id: prov
    adapterType: openai
    enabled: true
  - id: prov-off
    adapterType: anthropic
    enabled: false
proxies:
  - {id: top, inboundAdapter: anthropic, outboundKind: proxy, outboundId: mid, path: top, enabled: true}
  - {id: mid, inboundAdapter: openai, outboundKind: proxy, outboundId: bottom, path: mid, enabled: true}
  - {id: bottom, inboundAdapter: openai, outboundKind: provider, outboundId: prov, path: bottom, enabled: true}
  - {id: dangling, inboundAdapter: openai, outboundKind: proxy, outboundId: missing, path: dangling, enabled: true}
  - {id: off, inboundAdapter: openai, outboundKind: provider, outboundId: prov, path: off, enabled: false}
  - {id: to-off-provider, inboundAdapter: openai, outboundKind: provider, outboundId: prov-off, path: to-off, enabled: true}
  - {id: loop-a, inboundAdapter: openai, outboundKind: proxy, outboundId: loop-b, path: loop-a, enabled: true}
  - {id: loop-b, inboundAdapter: openai, outboundKind: proxy, outboundId: loop-a, path: loop-b, enabled: true}
  - {id: self, inboundAdapter: openai, outboundKind: proxy, outboundId: self, path: self, enabled: true}
`

func testStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainConfig), 0o600))
	s, err := store.Load(path, nil, nil)
	require.NoError(t, err)
	return s
}

func TestResolve(t *testing.T) {
	s := testStore(t)

	chain, err := Resolve(s, "top")
	require.NoError(t, err)
	require.Equal(t, "prov", chain.Provider.ID)
	require.Len(t, chain.Proxies, 3)
	require.Equal(t, "top", chain.Top().ID)
	require.Equal(t, "bottom", chain.Bottom().ID)

	chain, err = Resolve(s, "bottom")
	require.NoError(t, err)
	require.Len(t, chain.Proxies, 1)
	require.Equal(t, "bottom", chain.Bottom().ID)
}

func TestResolve_errors(t *testing.T) {
	s := testStore(t)
	for _, tc := range []struct {
		name    string
		proxyID string
		code    ir.Code
	}{
		{name: "unknown proxy", proxyID: "nope", code: ir.CodeProxyNotFound},
		{name: "dangling hop", proxyID: "dangling", code: ir.CodeProxyNotFound},
		{name: "disabled proxy", proxyID: "off", code: ir.CodeProxyDisabled},
		{name: "disabled provider", proxyID: "to-off-provider", code: ir.CodeProviderDisabled},
		{name: "two-hop loop", proxyID: "loop-a", code: ir.CodeCircularProxy},
		{name: "self loop", proxyID: "self", code: ir.CodeCircularProxy},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(s, tc.proxyID)
			require.Error(t, err)
			ge, ok := ir.AsGatewayError(err)
			require.True(t, ok)
			require.Equal(t, tc.code, ge.Code)
		})
	}
}
