// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package store is the YAML-file-backed configuration store: providers,
// proxies, model mappings, code-switch rules, platform keys, and settings.
// The store owns these rows; the request path reads them and subscribes to
// change notifications for cache invalidation.
package store

import "time"

// Provider is the persistent configuration of one upstream LLM endpoint.
type Provider struct {
	// ID is the stable identifier referenced by proxies and mappings.
	ID string `yaml:"id"`
	// Name is the human-readable label.
	Name string `yaml:"name,omitempty"`
	// AdapterType selects the dialect module: openai, openai-responses,
	// anthropic, deepseek, moonshot, qwen, zhipu, google.
	AdapterType string `yaml:"adapterType"`
	// BaseURL overrides the adapter default when non-empty.
	BaseURL string `yaml:"baseUrl,omitempty"`
	// ChatPath overrides the adapter default chat path; it may contain a
	// literal {model} placeholder.
	ChatPath string `yaml:"chatPath,omitempty"`
	// ModelsPath overrides the adapter default models path.
	ModelsPath string `yaml:"modelsPath,omitempty"`
	// APIKey is the stored credential, opaque until decrypted. A value
	// with the enc: prefix is AES-256-GCM encrypted.
	APIKey string `yaml:"apiKey,omitempty"`
	// Models is the advertised model id list served on /v1/models.
	Models []string `yaml:"models,omitempty"`
	// Enabled gates the provider for resolution and route mounting.
	Enabled bool `yaml:"enabled"`
	// Passthrough mounts the provider on a local path with no dialect
	// conversion. Path must then be non-empty and unique.
	Passthrough bool `yaml:"passthrough,omitempty"`
	// Path is the local path segment under /providers/.
	Path string `yaml:"path,omitempty"`
	// Logo and Color are opaque UI hints.
	Logo  string `yaml:"logo,omitempty"`
	Color string `yaml:"color,omitempty"`
	// IsPool marks an OAuth account pool. The core only observes that
	// pooled credentials must not share a cached bridge.
	IsPool bool `yaml:"isPool,omitempty"`
	// OAuthProviderType is opaque pool metadata.
	OAuthProviderType string `yaml:"oauthProviderType,omitempty"`
}

// Outbound kinds of a proxy.
const (
	OutboundProvider = "provider"
	OutboundProxy    = "proxy"
)

// Proxy is a conversion bridge: an inbound dialect mounted on a local
// path, forwarding to a provider or to another proxy.
type Proxy struct {
	ID string `yaml:"id"`
	// Name is the human-readable label.
	Name string `yaml:"name,omitempty"`
	// InboundAdapter is the dialect served on the local path.
	InboundAdapter string `yaml:"inboundAdapter"`
	// OutboundKind is provider or proxy.
	OutboundKind string `yaml:"outboundKind"`
	// OutboundID references a Provider or a Proxy depending on kind.
	OutboundID string `yaml:"outboundId"`
	// Path is the unique local path segment under /proxies/.
	Path string `yaml:"path"`
	// Enabled gates the proxy for resolution and route mounting.
	Enabled bool `yaml:"enabled"`
}

// ModelMapping remaps a source model for one conversion proxy.
type ModelMapping struct {
	ProxyID     string `yaml:"proxyId"`
	SourceModel string `yaml:"sourceModel"`
	TargetModel string `yaml:"targetModel"`
	IsDefault   bool   `yaml:"isDefault,omitempty"`
	IsActive    bool   `yaml:"isActive"`
}

// Code-switch CLI types, each a fixed route under /code/.
const (
	CLIClaudeCode = "claudecode"
	CLICodex      = "codex"
)

// Code-switch mapping types, in resolution priority order.
const (
	MappingExact     = "exact"
	MappingFamily    = "family"
	MappingReasoning = "reasoning"
	MappingDefault   = "default"
)

// CodeSwitch binds a code-assistant CLI route to a default provider.
type CodeSwitch struct {
	// CLIType is claudecode or codex.
	CLIType string `yaml:"cliType"`
	// ProviderID is the provider serving the route when a mapping does
	// not select one by adapter type.
	ProviderID string `yaml:"providerId"`
	Enabled    bool   `yaml:"enabled"`
}

// CodeSwitchMapping is one layered mapping rule for a code-assistant
// route. At most one active reasoning row and one active default row per
// (cliType, providerId).
type CodeSwitchMapping struct {
	CLIType     string `yaml:"cliType"`
	ProviderID  string `yaml:"providerId"`
	SourceModel string `yaml:"sourceModel,omitempty"`
	TargetModel string `yaml:"targetModel"`
	// MappingType is exact, family, reasoning, or default.
	MappingType string `yaml:"mappingType"`
	// Priority orders family rules; lower wins.
	Priority int  `yaml:"priority,omitempty"`
	IsActive bool `yaml:"isActive"`
}

// PlatformKey is a gateway-issued credential. Its Key carries the
// sk-amux. prefix.
type PlatformKey struct {
	ID      string `yaml:"id"`
	Key     string `yaml:"key"`
	Name    string `yaml:"name,omitempty"`
	Enabled bool   `yaml:"enabled"`
	// LastUsedAt is touched on every successful validation.
	LastUsedAt time.Time `yaml:"lastUsedAt,omitempty"`
	CreatedAt  time.Time `yaml:"createdAt,omitempty"`
}

// Settings are the gateway knobs the core consumes.
type Settings struct {
	Proxy    ProxySettings    `yaml:"proxy"`
	Security SecuritySettings `yaml:"security"`
	Logs     LogSettings      `yaml:"logs"`
}

// ProxySettings configure the listener.
type ProxySettings struct {
	Host      string       `yaml:"host"`
	Port      int          `yaml:"port"`
	TimeoutMS int          `yaml:"timeout"`
	CORS      CORSSettings `yaml:"cors"`
}

// CORSSettings configure cross-origin access.
type CORSSettings struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

// SecuritySettings configure the auth gate.
type SecuritySettings struct {
	UnifiedAPIKey UnifiedAPIKeySettings `yaml:"unifiedApiKey"`
}

// UnifiedAPIKeySettings toggle required keys on local routes.
type UnifiedAPIKeySettings struct {
	Enabled bool `yaml:"enabled"`
}

// LogSettings configure the request-log sink.
type LogSettings struct {
	Enabled          bool `yaml:"enabled"`
	SaveRequestBody  bool `yaml:"saveRequestBody"`
	SaveResponseBody bool `yaml:"saveResponseBody"`
	MaxBodySize      int  `yaml:"maxBodySize"`
	RetentionDays    int  `yaml:"retentionDays"`
	MaxEntries       int  `yaml:"maxEntries"`
}

// Timeout returns the per-request deadline.
func (p ProxySettings) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// DefaultSettings returns the documented defaults, applied before the
// YAML overlay.
func DefaultSettings() Settings {
	return Settings{
		Proxy: ProxySettings{
			Host:      "127.0.0.1",
			Port:      9527,
			TimeoutMS: 60000,
			CORS:      CORSSettings{Enabled: true, Origins: []string{"*"}},
		},
		Security: SecuritySettings{
			UnifiedAPIKey: UnifiedAPIKeySettings{Enabled: false},
		},
		Logs: LogSettings{
			Enabled:       true,
			MaxBodySize:   10240,
			RetentionDays: 30,
			MaxEntries:    10000,
		},
	}
}

// Config is the full YAML document.
type Config struct {
	Settings           Settings            `yaml:"settings"`
	Providers          []Provider          `yaml:"providers,omitempty"`
	Proxies            []Proxy             `yaml:"proxies,omitempty"`
	ModelMappings      []ModelMapping      `yaml:"modelMappings,omitempty"`
	CodeSwitches       []CodeSwitch        `yaml:"codeSwitches,omitempty"`
	CodeSwitchMappings []CodeSwitchMapping `yaml:"codeSwitchMappings,omitempty"`
	PlatformKeys       []PlatformKey       `yaml:"platformKeys,omitempty"`
}
