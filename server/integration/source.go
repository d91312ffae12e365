package integration

import (
	"context"
	"strings"
	"time"
)

// Capability describes how a source acquires data: by being polled on a
// fixed interval, or by producing a continuous event stream.
type Capability int

const (
	// CapabilityPolling sources implement Puller and are invoked on the
	// descriptor's refresh interval.
	CapabilityPolling Capability = iota

	// CapabilityStreaming sources implement Streamer and push events as
	// they arrive, with no timer involved.
	CapabilityStreaming
)

// String returns the capability name used in the API and in logs.
func (c Capability) String() string {
	switch c {
	case CapabilityPolling:
		return "polling"
	case CapabilityStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Descriptor identifies an integration and its refresh policy.
// Immutable after registration.
type Descriptor struct {
	// Name is the unique, stable identifier (e.g., "weather").
	Name string `json:"name"`

	// DisplayName is the human-readable name (e.g., "Weather").
	DisplayName string `json:"displayName"`

	// RefreshInterval is how often a polling source is invoked.
	// Ignored for streaming sources.
	RefreshInterval time.Duration `json:"-"`

	// Capability selects the acquisition mode.
	Capability Capability `json:"capability"`
}

// Result is one successful acquisition outcome produced by a source:
// the structured payload plus the pre-rendered widget view.
type Result struct {
	Payload  map[string]any
	Rendered string
}

// Source is the common surface of every integration implementation.
// A source additionally implements exactly one of Puller or Streamer,
// selected by its descriptor's capability.
type Source interface {
	Descriptor() Descriptor
}

// Puller is the polling capability: one invocation returns one result.
// Implementations must honor ctx cancellation on blocking network calls.
type Puller interface {
	Source
	Pull(ctx context.Context) (Result, error)
}

// Streamer is the streaming capability. Stream blocks, calling emit once
// per event, until the stream ends or fails. A nil return means the stream
// ended cleanly (or ctx was canceled); the caller decides when to reopen.
type Streamer interface {
	Source
	Stream(ctx context.Context, emit func(Result)) error
}

// sensitiveKeyFragments are substrings that mark a settings key as secret.
// Settings whose key matches are never exposed to templates or the API.
var sensitiveKeyFragments = []string{
	"api_key", "apikey", "token", "secret", "password", "credential", "key",
}

// SafeSettings returns a copy of settings with secret-looking keys removed.
// Sources use this when handing widget settings to their templates.
func SafeSettings(settings map[string]any) map[string]any {
	safe := make(map[string]any, len(settings))
	for k, v := range settings {
		if isSensitiveKey(k) {
			continue
		}
		safe[k] = v
	}
	return safe
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
