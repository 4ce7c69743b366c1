// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package adapter implements the per-dialect translation modules. Each
// adapter parses its dialect's wire requests and responses into the
// canonical IR and builds them back out of it, so any inbound adapter
// composes with any outbound adapter.
package adapter

import (
	"net/http"
	"sort"

	"github.com/isboyjc/amux/internal/ir"
)

// Dialect names, also the adapter_type values of the configuration store.
const (
	NameOpenAI          = "openai"
	NameOpenAIResponses = "openai-responses"
	NameAnthropic       = "anthropic"
	NameGoogle          = "google"
	NameDeepSeek        = "deepseek"
	NameMoonshot        = "moonshot"
	NameQwen            = "qwen"
	NameZhipu           = "zhipu"
)

// Capabilities describes what a dialect can express. They are advisory:
// callers use them to fail fast on unsupported combinations, the hot path
// does not consult them.
type Capabilities struct {
	Streaming    bool
	Tools        bool
	Vision       bool
	Multimodal   bool
	SystemPrompt bool
	ToolChoice   bool
	Reasoning    bool
	WebSearch    bool
	JSONMode     bool
	Logprobs     bool
	Seed         bool
}

// Framing describes how a dialect frames SSE to its clients.
type Framing struct {
	// EventPrefixed writes an `event: <type>` line before each data line.
	EventPrefixed bool
	// DoneTerminator writes a final `data: [DONE]` frame after the stream.
	DoneTerminator bool
}

// SSEEvent is one decoded upstream SSE event: the optional event name and
// the raw data payload.
type SSEEvent struct {
	Event string
	Data  []byte
}

// Frame is one wire SSE frame bound for the client. Event is empty for
// dialects without event-prefixed framing. A frame with Done set renders
// as the literal `data: [DONE]` terminator.
type Frame struct {
	Event string
	Data  []byte
	Done  bool
}

// StreamParser consumes upstream SSE events for one stream and yields
// canonical events. One parser serves exactly one stream; it owns the
// start/end bookkeeping so the emitted sequence always opens with a single
// start event and closes with a single end event.
type StreamParser interface {
	// Parse decodes one upstream SSE event into zero or more canonical
	// events. Keep-alive noise yields nil.
	Parse(ev SSEEvent) ([]ir.StreamEvent, error)
	// End flushes the parser at upstream EOF. It emits the closing end
	// event when the dialect has no terminator of its own (or the
	// upstream dropped it); parsers that already emitted end return nil.
	End() []ir.StreamEvent
}

// StreamBuilder turns canonical events back into wire SSE frames for one
// client stream. Like StreamParser it is a per-stream state machine.
type StreamBuilder interface {
	Next(ev ir.StreamEvent) ([]Frame, error)
}

// Adapter is one dialect module. Implementations are value-typed and
// side-effect free; per-stream state lives in the parsers and builders
// they create.
type Adapter interface {
	Name() string
	Version() string
	Capabilities() Capabilities

	// ParseRequest decodes a wire request of this dialect into IR.
	ParseRequest(wire []byte) (*ir.Request, error)
	// ParseResponse decodes a wire response of this dialect into IR.
	ParseResponse(wire []byte) (*ir.Response, error)
	// NewStreamParser returns the per-stream upstream parser.
	NewStreamParser() StreamParser
	// ParseError maps an upstream error body into canonical form. It
	// never fails; unrecognized bodies come back with ErrorKindUnknown.
	ParseError(status int, body []byte) *ir.Error

	// BuildRequest encodes an IR request onto this dialect's wire.
	BuildRequest(req *ir.Request) ([]byte, error)
	// BuildResponse encodes an IR response onto this dialect's wire.
	BuildResponse(resp *ir.Response) ([]byte, error)
	// NewStreamBuilder returns the per-stream client frame builder.
	NewStreamBuilder() StreamBuilder

	// DefaultBaseURL is the upstream origin used when the provider row
	// has none.
	DefaultBaseURL() string
	// DefaultChatPath is the upstream chat path, possibly containing a
	// literal {model} placeholder.
	DefaultChatPath() string
	// DefaultModelsPath is the upstream model-listing path.
	DefaultModelsPath() string
	// ChatPath expands pathOverride (or the default when empty) for one
	// call: {model} placeholders are substituted and streaming variants
	// selected where the dialect distinguishes them.
	ChatPath(pathOverride, model string, stream bool) string

	// ApplyAuth sets this dialect's credential headers.
	ApplyAuth(h http.Header, key string)
	// Framing reports the client-side SSE framing rules.
	Framing() Framing
}

var registry = map[string]Adapter{}

// register installs an adapter under its name. Called from init in each
// dialect file; duplicate names panic at process start.
func register(a Adapter) {
	if _, dup := registry[a.Name()]; dup {
		panic("duplicate adapter registration: " + a.Name())
	}
	registry[a.Name()] = a
}

// ForName returns the adapter registered under name.
func ForName(name string) (Adapter, bool) {
	a, ok := registry[name]
	return a, ok
}

// Names returns all registered dialect names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// InboundEndpoint returns the local chat endpoint mounted for a dialect
// when it serves as the inbound side of a conversion proxy.
func InboundEndpoint(name string) string {
	switch name {
	case NameAnthropic:
		return "/v1/messages"
	case NameOpenAIResponses:
		return "/v1/responses"
	case NameGoogle:
		return "/v1beta/models/{model}:streamGenerateContent"
	default:
		return "/v1/chat/completions"
	}
}
