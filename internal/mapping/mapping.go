// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package mapping rewrites requested model identifiers: flat per-proxy
// mappings for conversion proxies, and the layered code-switch rules for
// the code-assistant routes.
package mapping

import (
	"strings"
	"sync"
	"time"

	"github.com/isboyjc/amux/internal/adapter"
	"github.com/isboyjc/amux/internal/ir"
	"github.com/isboyjc/amux/internal/store"
)

// codeSwitchTTL bounds how long a compiled ruleset serves without a
// recompile, even absent an explicit invalidation.
const codeSwitchTTL = 5 * time.Minute

// codexPresetModels are the model identifiers the Codex CLI ships with.
// They never exist on non-OpenAI providers, so a request for one MUST be
// remapped; serving it unmapped would fail upstream with a confusing
// model-not-found.
var codexPresetModels = map[string]struct{}{
	"gpt-5":              {},
	"gpt-5-codex":        {},
	"gpt-5-mini":         {},
	"gpt-5-nano":         {},
	"gpt-5.1":            {},
	"gpt-5.1-codex":      {},
	"gpt-5.1-codex-mini": {},
	"gpt-5.2":            {},
	"gpt-5.2-codex":      {},
	"codex-mini-latest":  {},
	"o3":                 {},
	"o4-mini":            {},
}

// Engine resolves model mappings against the store, caching compiled
// code-switch rulesets per CLI type.
type Engine struct {
	store *store.Store

	mu    sync.Mutex
	cache map[string]*ruleset
	now   func() time.Time
}

// ruleset is one CLI type's compiled rules.
type ruleset struct {
	compiledAt time.Time
	providerID string
	enabled    bool
	exact      map[string]string
	reasoning  string
	// family rules keep store order: ascending priority.
	family []familyRule
	def    string
}

type familyRule struct {
	needle string // lowercased substring
	target string
}

// NewEngine builds an engine over the store. The caller wires store
// change notifications to Invalidate.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s, cache: map[string]*ruleset{}, now: time.Now}
}

// MapProxyModel applies the proxy's model mapping. Unmapped models pass
// through; an active default row catches anything without an exact row.
func (e *Engine) MapProxyModel(proxyID, model string) string {
	bysource, def := e.store.ProxyMappings(proxyID)
	if target, ok := bysource[model]; ok {
		return target
	}
	if def != "" {
		return def
	}
	return model
}

// Resolution is the outcome of a code-switch lookup.
type Resolution struct {
	// Model is the final model identifier, adapter prefix stripped.
	Model string
	// AdapterType is non-empty when the target carried an
	// `<adapterType>/<model>` prefix, selecting a provider by type.
	AdapterType string
	// ProviderID is the code switch's bound provider, used when
	// AdapterType is empty.
	ProviderID string
	// Mapped reports whether any rule fired.
	Mapped bool
}

// ResolveCodeSwitch maps a requested model for a code-assistant route.
// reasoning reports whether the request opted into extended thinking.
// Precedence: exact match, then the reasoning row (only for reasoning
// requests), then family substring rules by ascending priority, then the
// default row, then pass-through.
func (e *Engine) ResolveCodeSwitch(cliType, model string, reasoning bool) (Resolution, error) {
	rs, err := e.rules(cliType)
	if err != nil {
		return Resolution{}, err
	}

	target, mapped := rs.resolve(model, reasoning)
	if !mapped && cliType == store.CLICodex {
		if _, preset := codexPresetModels[model]; preset {
			return Resolution{}, ir.GatewayErrorf(ir.CodeModelMappingRequired,
				"codex model %q requires an active model mapping; map it to a target such as <adapterType>/<model> (e.g. zhipu/glm-4.5)", model)
		}
	}

	res := Resolution{Model: target, ProviderID: rs.providerID, Mapped: mapped}
	if adapterType, bare, ok := adapter.SplitProviderModel(target); ok {
		res.AdapterType = adapterType
		res.Model = bare
	}
	return res, nil
}

func (rs *ruleset) resolve(model string, reasoning bool) (target string, mapped bool) {
	if t, ok := rs.exact[model]; ok {
		return t, true
	}
	if reasoning && rs.reasoning != "" {
		return rs.reasoning, true
	}
	lower := strings.ToLower(model)
	for _, fr := range rs.family {
		if strings.Contains(lower, fr.needle) {
			return fr.target, true
		}
	}
	if rs.def != "" {
		return rs.def, true
	}
	return model, false
}

// Invalidate drops the compiled ruleset for one CLI type.
func (e *Engine) Invalidate(cliType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, cliType)
}

// InvalidateAll drops every compiled ruleset.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.cache)
}

func (e *Engine) rules(cliType string) (*ruleset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs, ok := e.cache[cliType]; ok && e.now().Sub(rs.compiledAt) < codeSwitchTTL {
		return rs, nil
	}
	rs, err := e.compile(cliType)
	if err != nil {
		return nil, err
	}
	e.cache[cliType] = rs
	return rs, nil
}

func (e *Engine) compile(cliType string) (*ruleset, error) {
	cs, ok := e.store.CodeSwitch(cliType)
	if !ok || !cs.Enabled {
		return nil, ir.GatewayErrorf(ir.CodeProxyDisabled, "code switch %q is not enabled", cliType)
	}
	rs := &ruleset{
		compiledAt: e.now(),
		providerID: cs.ProviderID,
		enabled:    true,
		exact:      map[string]string{},
	}
	// CodeSwitchMappings comes back with family rows already in ascending
	// priority order.
	for _, m := range e.store.CodeSwitchMappings(cliType) {
		if m.ProviderID != cs.ProviderID {
			continue
		}
		switch m.MappingType {
		case store.MappingExact:
			rs.exact[m.SourceModel] = m.TargetModel
		case store.MappingReasoning:
			rs.reasoning = m.TargetModel
		case store.MappingFamily:
			rs.family = append(rs.family, familyRule{
				needle: strings.ToLower(m.SourceModel),
				target: m.TargetModel,
			})
		case store.MappingDefault:
			rs.def = m.TargetModel
		}
	}
	return rs, nil
}
