// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package mapping

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isboyjc/amux/internal/ir"
	"github.com/isboyjc/amux/internal/store"
)

const mappingConfig = `
providers:
  - id: prov-oai
    adapterType: openai
    enabled: true
  - id: prov-zhipu
    adapterType: zhipu
    enabled: true
proxies:
  - {id: px, inboundAdapter: anthropic, outboundKind: provider, outboundId: prov-oai, path: px, enabled: true}
modelMappings:
  - {proxyId: px, sourceModel: claude-sonnet-4, targetModel: gpt-4o, isActive: true}
  - {proxyId: px, sourceModel: claude-opus-4, targetModel: gpt-4o, isActive: false}
codeSwitches:
  - {cliType: claudecode, providerId: prov-oai, enabled: true}
  - {cliType: codex, providerId: prov-zhipu, enabled: true}
codeSwitchMappings:
  - {cliType: claudecode, providerId: prov-oai, sourceModel: claude-3-5-haiku-20241022, targetModel: gpt-4o-mini, mappingType: exact, isActive: true}
  - {cliType: claudecode, providerId: prov-oai, targetModel: o3, mappingType: reasoning, isActive: true}
  - {cliType: claudecode, providerId: prov-oai, sourceModel: haiku, targetModel: gpt-4o-mini, mappingType: family, priority: 1, isActive: true}
  - {cliType: claudecode, providerId: prov-oai, sourceModel: sonnet, targetModel: gpt-4o, mappingType: family, priority: 2, isActive: true}
  - {cliType: claudecode, providerId: prov-oai, targetModel: zhipu/glm-4.5, mappingType: default, isActive: true}
  - {cliType: codex, providerId: prov-zhipu, sourceModel: gpt-5-codex, targetModel: glm-4.5, mappingType: exact, isActive: true}
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mappingConfig), 0o600))
	s, err := store.Load(path, nil, nil)
	require.NoError(t, err)
	return NewEngine(s)
}

func TestMapProxyModel(t *testing.T) {
	e := testEngine(t)
	require.Equal(t, "gpt-4o", e.MapProxyModel("px", "claude-sonnet-4"))
	// Inactive rows do not fire; unmapped models pass through.
	require.Equal(t, "claude-opus-4", e.MapProxyModel("px", "claude-opus-4"))
	require.Equal(t, "other", e.MapProxyModel("px", "other"))
	require.Equal(t, "m", e.MapProxyModel("no-such-proxy", "m"))
}

func TestResolveCodeSwitch_precedence(t *testing.T) {
	e := testEngine(t)
	for _, tc := range []struct {
		name      string
		model     string
		reasoning bool
		want      Resolution
	}{
		{
			name:  "exact beats family",
			model: "claude-3-5-haiku-20241022",
			want:  Resolution{Model: "gpt-4o-mini", ProviderID: "prov-oai", Mapped: true},
		},
		{
			name:      "reasoning beats family",
			model:     "claude-sonnet-4-20250514",
			reasoning: true,
			want:      Resolution{Model: "o3", ProviderID: "prov-oai", Mapped: true},
		},
		{
			name:  "family substring is case-insensitive",
			model: "claude-SONNET-4-20250514",
			want:  Resolution{Model: "gpt-4o", ProviderID: "prov-oai", Mapped: true},
		},
		{
			name:  "lower priority family wins",
			model: "claude-haiku-and-sonnet",
			want:  Resolution{Model: "gpt-4o-mini", ProviderID: "prov-oai", Mapped: true},
		},
		{
			name:  "default with adapter prefix selects by type",
			model: "claude-opus-4",
			want:  Resolution{Model: "glm-4.5", AdapterType: "zhipu", ProviderID: "prov-oai", Mapped: true},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.ResolveCodeSwitch(store.CLIClaudeCode, tc.model, tc.reasoning)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveCodeSwitch_codexPresets(t *testing.T) {
	e := testEngine(t)

	// Mapped preset resolves normally.
	got, err := e.ResolveCodeSwitch(store.CLICodex, "gpt-5-codex", false)
	require.NoError(t, err)
	require.Equal(t, "glm-4.5", got.Model)

	// Unmapped presets are rejected rather than sent upstream, and the
	// error points at the provider/model naming scheme.
	for _, model := range []string{"gpt-5", "gpt-5.2-codex", "o4-mini"} {
		_, err = e.ResolveCodeSwitch(store.CLICodex, model, false)
		ge, ok := ir.AsGatewayError(err)
		require.True(t, ok, "model %s", model)
		require.Equal(t, ir.CodeModelMappingRequired, ge.Code)
		require.Contains(t, ge.Message, "<adapterType>/<model>")
	}

	// Non-preset models pass through.
	got, err = e.ResolveCodeSwitch(store.CLICodex, "my-local-model", false)
	require.NoError(t, err)
	require.Equal(t, Resolution{Model: "my-local-model", ProviderID: "prov-zhipu"}, got)
}

func TestCodeSwitchCache(t *testing.T) {
	e := testEngine(t)
	now := time.Now()
	e.now = func() time.Time { return now }

	_, err := e.ResolveCodeSwitch(store.CLIClaudeCode, "x", false)
	require.NoError(t, err)
	rs1 := e.cache[store.CLIClaudeCode]
	require.NotNil(t, rs1)

	// Within the TTL the compiled ruleset is reused.
	_, err = e.ResolveCodeSwitch(store.CLIClaudeCode, "y", false)
	require.NoError(t, err)
	require.Same(t, rs1, e.cache[store.CLIClaudeCode])

	// Past the TTL it recompiles.
	now = now.Add(6 * time.Minute)
	_, err = e.ResolveCodeSwitch(store.CLIClaudeCode, "z", false)
	require.NoError(t, err)
	require.NotSame(t, rs1, e.cache[store.CLIClaudeCode])

	// Explicit invalidation drops it immediately.
	e.Invalidate(store.CLIClaudeCode)
	require.Nil(t, e.cache[store.CLIClaudeCode])
}

func TestResolveCodeSwitch_disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
codeSwitches:
  - {cliType: claudecode, providerId: p, enabled: false}
`), 0o600))
	s, err := store.Load(path, nil, nil)
	require.NoError(t, err)
	e := NewEngine(s)

	_, err = e.ResolveCodeSwitch(store.CLIClaudeCode, "m", false)
	ge, ok := ir.AsGatewayError(err)
	require.True(t, ok)
	require.Equal(t, ir.CodeProxyDisabled, ge.Code)

	_, err = e.ResolveCodeSwitch(store.CLICodex, "m", false)
	require.Error(t, err)
}
