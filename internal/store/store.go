// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package store

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isboyjc/amux/internal/adapter"
)

// Change describes what a reload touched. Subscribers use it to drop
// exactly the caches the changed rows back.
type Change struct {
	// ProviderIDs lists providers whose row changed or disappeared.
	ProviderIDs []string
	// ProxyIDs lists proxies whose row or mappings changed or disappeared.
	ProxyIDs []string
	// CLITypes lists code-switch routes whose rules changed.
	CLITypes []string
	// RoutesChanged reports that the set of mounted paths differs, so the
	// route table must be rebuilt.
	RoutesChanged bool
	// SettingsChanged reports that the settings block differs.
	SettingsChanged bool
}

func (c Change) empty() bool {
	return len(c.ProviderIDs) == 0 && len(c.ProxyIDs) == 0 && len(c.CLITypes) == 0 &&
		!c.RoutesChanged && !c.SettingsChanged
}

// Store holds the loaded configuration and serves reads to the request
// path. All accessors are safe for concurrent use.
type Store struct {
	path    string
	decrypt DecryptFunc
	logger  *slog.Logger

	mu  sync.RWMutex
	cfg *Config

	cbMu        sync.Mutex
	subscribers []func(Change)
}

// Load reads, validates, and indexes the YAML document at path.
// decrypt may be nil, in which case [NewDecryptFunc] with the ambient
// secret key is used.
func Load(path string, decrypt DecryptFunc, logger *slog.Logger) (*Store, error) {
	if decrypt == nil {
		decrypt = NewDecryptFunc(os.Getenv(secretKeyEnv))
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, decrypt: decrypt, logger: logger}
	cfg, err := unmarshalConfigYAML(path)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// unmarshalConfigYAML reads one config document, applies defaults, and
// validates it.
func unmarshalConfigYAML(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	providerIDs := make(map[string]struct{}, len(cfg.Providers))
	providerPaths := map[string]string{}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.ID == "" {
			return fmt.Errorf("provider %d: missing id", i)
		}
		if _, dup := providerIDs[p.ID]; dup {
			return fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		providerIDs[p.ID] = struct{}{}
		if _, ok := adapter.ForName(p.AdapterType); !ok {
			return fmt.Errorf("provider %q: unknown adapter type %q", p.ID, p.AdapterType)
		}
		if p.Passthrough {
			if p.Path == "" {
				return fmt.Errorf("provider %q: passthrough requires a path", p.ID)
			}
			if other, dup := providerPaths[p.Path]; dup {
				return fmt.Errorf("provider %q: path %q already used by provider %q", p.ID, p.Path, other)
			}
			providerPaths[p.Path] = p.ID
		}
	}

	proxyIDs := make(map[string]struct{}, len(cfg.Proxies))
	proxyPaths := map[string]string{}
	for i := range cfg.Proxies {
		px := &cfg.Proxies[i]
		if px.ID == "" {
			return fmt.Errorf("proxy %d: missing id", i)
		}
		if _, dup := proxyIDs[px.ID]; dup {
			return fmt.Errorf("proxy %q: duplicate id", px.ID)
		}
		proxyIDs[px.ID] = struct{}{}
		if _, ok := adapter.ForName(px.InboundAdapter); !ok {
			return fmt.Errorf("proxy %q: unknown inbound adapter %q", px.ID, px.InboundAdapter)
		}
		if px.OutboundKind != OutboundProvider && px.OutboundKind != OutboundProxy {
			return fmt.Errorf("proxy %q: outbound kind must be %q or %q, got %q",
				px.ID, OutboundProvider, OutboundProxy, px.OutboundKind)
		}
		if px.OutboundID == "" {
			return fmt.Errorf("proxy %q: missing outbound id", px.ID)
		}
		if px.Path == "" {
			return fmt.Errorf("proxy %q: missing path", px.ID)
		}
		if other, dup := proxyPaths[px.Path]; dup {
			return fmt.Errorf("proxy %q: path %q already used by proxy %q", px.ID, px.Path, other)
		}
		proxyPaths[px.Path] = px.ID
	}
	// Dangling references are legal rows (the target may be created later)
	// but resolution reports them; only reference shape is validated here.

	for i := range cfg.CodeSwitches {
		cs := &cfg.CodeSwitches[i]
		if cs.CLIType != CLIClaudeCode && cs.CLIType != CLICodex {
			return fmt.Errorf("code switch %d: unknown cli type %q", i, cs.CLIType)
		}
	}
	type csKey struct{ cli, provider, typ string }
	seen := map[csKey]struct{}{}
	for i := range cfg.CodeSwitchMappings {
		m := &cfg.CodeSwitchMappings[i]
		switch m.MappingType {
		case MappingExact, MappingFamily, MappingReasoning, MappingDefault:
		default:
			return fmt.Errorf("code switch mapping %d: unknown mapping type %q", i, m.MappingType)
		}
		if !m.IsActive {
			continue
		}
		if m.MappingType == MappingReasoning || m.MappingType == MappingDefault {
			k := csKey{m.CLIType, m.ProviderID, m.MappingType}
			if _, dup := seen[k]; dup {
				return fmt.Errorf("code switch mapping %d: multiple active %s rows for %s/%s",
					i, m.MappingType, m.CLIType, m.ProviderID)
			}
			seen[k] = struct{}{}
		}
	}

	keyIDs := map[string]struct{}{}
	for i := range cfg.PlatformKeys {
		k := &cfg.PlatformKeys[i]
		if k.ID == "" || k.Key == "" {
			return fmt.Errorf("platform key %d: missing id or key", i)
		}
		if _, dup := keyIDs[k.ID]; dup {
			return fmt.Errorf("platform key %q: duplicate id", k.ID)
		}
		keyIDs[k.ID] = struct{}{}
	}
	return nil
}

// Settings returns the current settings snapshot.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings
}

// Provider returns the provider row by id.
func (s *Store) Provider(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cfg.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// ProviderByAdapterType returns the first enabled provider of the given
// adapter type. Code-switch mapping results reference providers this way.
func (s *Store) ProviderByAdapterType(adapterType string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cfg.Providers {
		if p.Enabled && p.AdapterType == adapterType {
			return p, true
		}
	}
	return Provider{}, false
}

// Providers returns a copy of all provider rows.
func (s *Store) Providers() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Provider, len(s.cfg.Providers))
	copy(out, s.cfg.Providers)
	return out
}

// Proxy returns the proxy row by id.
func (s *Store) Proxy(id string) (Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, px := range s.cfg.Proxies {
		if px.ID == id {
			return px, true
		}
	}
	return Proxy{}, false
}

// Proxies returns a copy of all proxy rows.
func (s *Store) Proxies() []Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Proxy, len(s.cfg.Proxies))
	copy(out, s.cfg.Proxies)
	return out
}

// ProxyMappings returns the active source-to-target model map for one
// proxy, plus the default target model if an active default row exists.
func (s *Store) ProxyMappings(proxyID string) (bysource map[string]string, def string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bysource = map[string]string{}
	for _, m := range s.cfg.ModelMappings {
		if m.ProxyID != proxyID || !m.IsActive {
			continue
		}
		if m.IsDefault {
			def = m.TargetModel
			continue
		}
		bysource[m.SourceModel] = m.TargetModel
	}
	return bysource, def
}

// CodeSwitch returns the code-switch binding for a CLI type.
func (s *Store) CodeSwitch(cliType string) (CodeSwitch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.cfg.CodeSwitches {
		if cs.CLIType == cliType {
			return cs, true
		}
	}
	return CodeSwitch{}, false
}

// CodeSwitchMappings returns the active mapping rows for a CLI type,
// family rows sorted by ascending priority.
func (s *Store) CodeSwitchMappings(cliType string) []CodeSwitchMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CodeSwitchMapping
	for _, m := range s.cfg.CodeSwitchMappings {
		if m.CLIType == cliType && m.IsActive {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// PlatformKeyBySecret returns the platform key row matching the
// presented secret.
func (s *Store) PlatformKeyBySecret(secret string) (PlatformKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.cfg.PlatformKeys {
		if k.Key == secret {
			return k, true
		}
	}
	return PlatformKey{}, false
}

// TouchPlatformKey records a successful validation time on the key row.
// The timestamp lives in memory until the next persist by the owner of
// the file; the gateway core never writes the file itself.
func (s *Store) TouchPlatformKey(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cfg.PlatformKeys {
		if s.cfg.PlatformKeys[i].ID == id {
			s.cfg.PlatformKeys[i].LastUsedAt = time.Now()
			return
		}
	}
}

// APIKey returns the decrypted credential of a provider.
func (s *Store) APIKey(p Provider) (string, error) {
	return s.decrypt(p.APIKey)
}

// Subscribe registers a change callback, invoked after every reload that
// changed anything. Callbacks run on the watcher goroutine.
func (s *Store) Subscribe(fn func(Change)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Reload re-reads the file, swaps the snapshot, and notifies subscribers
// with the computed change set. A reload that changes nothing notifies
// nobody.
func (s *Store) Reload() error {
	next, err := unmarshalConfigYAML(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ch := diff(s.cfg, next)
	s.cfg = next
	s.mu.Unlock()
	if ch.empty() {
		return nil
	}
	s.cbMu.Lock()
	subs := make([]func(Change), len(s.subscribers))
	copy(subs, s.subscribers)
	s.cbMu.Unlock()
	for _, fn := range subs {
		fn(ch)
	}
	return nil
}

func diff(old, next *Config) Change {
	var ch Change

	oldP := map[string]Provider{}
	for _, p := range old.Providers {
		oldP[p.ID] = p
	}
	for _, p := range next.Providers {
		if prev, ok := oldP[p.ID]; !ok || !providerEqual(prev, p) {
			ch.ProviderIDs = append(ch.ProviderIDs, p.ID)
		}
		delete(oldP, p.ID)
	}
	for id := range oldP {
		ch.ProviderIDs = append(ch.ProviderIDs, id)
	}

	oldPx := map[string]Proxy{}
	for _, px := range old.Proxies {
		oldPx[px.ID] = px
	}
	for _, px := range next.Proxies {
		if prev, ok := oldPx[px.ID]; !ok || prev != px {
			ch.ProxyIDs = append(ch.ProxyIDs, px.ID)
		}
		delete(oldPx, px.ID)
	}
	for id := range oldPx {
		ch.ProxyIDs = append(ch.ProxyIDs, id)
	}
	if !mappingsEqual(old.ModelMappings, next.ModelMappings) {
		ch.ProxyIDs = appendMappingProxies(ch.ProxyIDs, old.ModelMappings, next.ModelMappings)
	}

	if !codeSwitchEqual(old, next) {
		set := map[string]struct{}{}
		for _, cs := range old.CodeSwitches {
			set[cs.CLIType] = struct{}{}
		}
		for _, cs := range next.CodeSwitches {
			set[cs.CLIType] = struct{}{}
		}
		for _, m := range old.CodeSwitchMappings {
			set[m.CLIType] = struct{}{}
		}
		for _, m := range next.CodeSwitchMappings {
			set[m.CLIType] = struct{}{}
		}
		for cli := range set {
			ch.CLITypes = append(ch.CLITypes, cli)
		}
		sort.Strings(ch.CLITypes)
	}

	ch.RoutesChanged = !pathsEqual(old, next)
	ch.SettingsChanged = !settingsEqual(old.Settings, next.Settings)
	sort.Strings(ch.ProviderIDs)
	sort.Strings(ch.ProxyIDs)
	return ch
}

func settingsEqual(a, b Settings) bool {
	if len(a.Proxy.CORS.Origins) != len(b.Proxy.CORS.Origins) {
		return false
	}
	for i := range a.Proxy.CORS.Origins {
		if a.Proxy.CORS.Origins[i] != b.Proxy.CORS.Origins[i] {
			return false
		}
	}
	a.Proxy.CORS.Origins, b.Proxy.CORS.Origins = nil, nil
	return reflect.DeepEqual(a, b)
}

func providerEqual(a, b Provider) bool {
	if len(a.Models) != len(b.Models) {
		return false
	}
	for i := range a.Models {
		if a.Models[i] != b.Models[i] {
			return false
		}
	}
	a.Models, b.Models = nil, nil
	return reflect.DeepEqual(a, b)
}

func mappingsEqual(a, b []ModelMapping) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendMappingProxies(ids []string, old, next []ModelMapping) []string {
	have := map[string]struct{}{}
	for _, id := range ids {
		have[id] = struct{}{}
	}
	oldBy := map[string][]ModelMapping{}
	for _, m := range old {
		oldBy[m.ProxyID] = append(oldBy[m.ProxyID], m)
	}
	nextBy := map[string][]ModelMapping{}
	for _, m := range next {
		nextBy[m.ProxyID] = append(nextBy[m.ProxyID], m)
	}
	for id, rows := range nextBy {
		if !mappingsEqual(oldBy[id], rows) {
			if _, dup := have[id]; !dup {
				ids = append(ids, id)
				have[id] = struct{}{}
			}
		}
		delete(oldBy, id)
	}
	for id := range oldBy {
		if _, dup := have[id]; !dup {
			ids = append(ids, id)
			have[id] = struct{}{}
		}
	}
	return ids
}

func codeSwitchEqual(old, next *Config) bool {
	if len(old.CodeSwitches) != len(next.CodeSwitches) ||
		len(old.CodeSwitchMappings) != len(next.CodeSwitchMappings) {
		return false
	}
	for i := range old.CodeSwitches {
		if old.CodeSwitches[i] != next.CodeSwitches[i] {
			return false
		}
	}
	for i := range old.CodeSwitchMappings {
		if old.CodeSwitchMappings[i] != next.CodeSwitchMappings[i] {
			return false
		}
	}
	return true
}

func pathsEqual(old, next *Config) bool {
	type mount struct{ kind, path, id string }
	collect := func(c *Config) []mount {
		var out []mount
		for _, p := range c.Providers {
			if p.Enabled && p.Passthrough {
				out = append(out, mount{"provider", p.Path, p.ID})
			}
		}
		for _, px := range c.Proxies {
			if px.Enabled {
				out = append(out, mount{"proxy", px.Path, px.ID})
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].kind != out[j].kind {
				return out[i].kind < out[j].kind
			}
			return out[i].path < out[j].path
		})
		return out
	}
	a, b := collect(old), collect(next)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
