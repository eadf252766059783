// Package provider defines the Provider interface, the static model table,
// and the two upstream adapters (Google and OpenRouter).
//
// Every upstream backend implements the Provider interface. The router
// resolves a public model key through the Catalog, picks the adapter with
// Set.For, and never needs to know which wire format is behind it.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Provider is the interface that every upstream LLM backend must satisfy.
type Provider interface {
	// Kind identifies the backend. Used for dispatch, logging, and
	// metrics labels.
	Kind() Kind

	// Complete sends a non-streaming request and returns the extracted
	// text together with the untouched upstream payload.
	//
	// A non-2xx upstream answer is returned as *UpstreamError so callers
	// can surface the provider's own status code and body.
	Complete(ctx context.Context, model ModelDescriptor, req *ChatRequest) (*Completion, error)

	// Stream sends a streaming request and returns the raw upstream
	// event-stream body. The caller owns the ReadCloser and must close it.
	// The status code has already been checked when Stream returns.
	Stream(ctx context.Context, model ModelDescriptor, req *ChatRequest) (io.ReadCloser, error)
}

// ---------------------------------------------------------------------------
// Provider kinds
// ---------------------------------------------------------------------------

// Kind is the closed set of upstream backends the router can dispatch to.
// It's an int enum rather than a string so a typo in config can't silently
// create a new "provider" that nothing handles.
type Kind int

const (
	KindGoogle Kind = iota + 1
	KindOpenRouter
)

// String returns the lowercase name used in config files and log fields.
func (k Kind) String() string {
	switch k {
	case KindGoogle:
		return "google"
	case KindOpenRouter:
		return "openrouter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DisplayName is the human-facing name used in upstream error messages,
// e.g. "Google API Error: ...".
func (k Kind) DisplayName() string {
	switch k {
	case KindGoogle:
		return "Google"
	case KindOpenRouter:
		return "OpenRouter"
	default:
		return k.String()
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k == KindGoogle || k == KindOpenRouter
}

// ParseKind converts a config string ("google", "openrouter") into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "google":
		return KindGoogle, nil
	case "openrouter":
		return KindOpenRouter, nil
	default:
		return 0, fmt.Errorf("unknown provider %q", s)
	}
}

// Set holds one adapter per Kind. Adding a Kind means adding a field here
// and a case in For; there is no string-keyed registry to forget.
type Set struct {
	Google     Provider
	OpenRouter Provider
}

// For returns the adapter that serves k.
func (s Set) For(k Kind) (Provider, error) {
	var p Provider
	switch k {
	case KindGoogle:
		p = s.Google
	case KindOpenRouter:
		p = s.OpenRouter
	default:
		return nil, fmt.Errorf("no adapter for provider %s", k)
	}
	if p == nil {
		return nil, fmt.Errorf("provider %s is not configured", k)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// ChatRequest is the normalized request the router accepts. Adapters
// translate it into their backend-specific format.
//
// The optional sampling knobs are pointers so "not sent" and "sent as 0"
// stay distinguishable. Adapters copy them only when non-nil.
type ChatRequest struct {
	Model             string         `json:"model"`
	Messages          []Message      `json:"messages"`
	Temperature       *float64       `json:"temperature,omitempty"`
	MaxTokens         *int           `json:"max_tokens,omitempty"`
	TopP              *float64       `json:"top_p,omitempty"`
	SystemInstruction string         `json:"system_instruction,omitempty"`
	Stream            bool           `json:"stream,omitempty"`
	Reasoning         bool           `json:"reasoning,omitempty"`
	Telemetry         *TelemetryMeta `json:"telemetry,omitempty"`
}

// Message is a single chat turn. Role is "user" or "assistant"; other
// roles are forwarded to OpenRouter as-is and collapse to "user" for Google.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TelemetryMeta is the optional usage-recording block. Without a UserID
// nothing is recorded.
type TelemetryMeta struct {
	UserID       string         `json:"userId,omitempty"`
	UserEmail    string         `json:"userEmail,omitempty"`
	EventType    string         `json:"eventType,omitempty"`
	EventPayload map[string]any `json:"eventPayload,omitempty"`
}

// ---------------------------------------------------------------------------
// Unified response types
// ---------------------------------------------------------------------------

// Completion is what an adapter hands back for a non-streaming call.
type Completion struct {
	Text string          // best-effort extracted answer, "" when the path is missing
	Raw  json.RawMessage // the upstream body, byte for byte
}

// UpstreamError wraps a non-2xx response from a provider. Body is kept as
// raw text so provider diagnostics survive unchanged.
type UpstreamError struct {
	Provider Kind
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API Error: %s", e.Provider.DisplayName(), e.Body)
}
