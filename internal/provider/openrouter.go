package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOpenRouterBaseURL is the public OpenRouter API root.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ---------------------------------------------------------------------------
// OpenRouterProvider struct + constructor
// ---------------------------------------------------------------------------

// OpenRouterProvider implements the Provider interface for OpenRouter's
// OpenAI-compatible chat completions API. Same pattern as GoogleProvider,
// but the wire format is close to ours so there is much less to translate.
type OpenRouterProvider struct {
	apiKey  string
	baseURL string // e.g. "https://openrouter.ai/api/v1"
	appURL  string // sent as HTTP-Referer for OpenRouter attribution
	appName string // sent as X-Title
	client  *http.Client
}

// NewOpenRouterProvider creates an OpenRouterProvider ready to make API calls.
func NewOpenRouterProvider(apiKey, baseURL, appURL, appName string, client *http.Client) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenRouterProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		appURL:  appURL,
		appName: appName,
		client:  client,
	}
}

// Kind returns KindOpenRouter.
func (o *OpenRouterProvider) Kind() Kind {
	return KindOpenRouter
}

// ---------------------------------------------------------------------------
// OpenRouter API types (unexported)
// ---------------------------------------------------------------------------

// openRouterRequest is the body for /chat/completions.
//
// Key differences from Gemini:
//   - "model" is in the body (Gemini puts it in the URL path)
//   - messages keep their OpenAI role/content shape, no translation
//   - reasoning is an object, not a flag
type openRouterRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Reasoning   *openRouterReason `json:"reasoning,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
}

type openRouterReason struct {
	Enabled bool `json:"enabled"`
}

// openRouterResponse only declares what extraction needs. Content is left
// as any because some models answer with an array of content parts.
type openRouterResponse struct {
	Choices []struct {
		Message *struct {
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toOpenRouterRequest swaps in the provider model id and copies the
// optional knobs only when the caller sent them.
func toOpenRouterRequest(model ModelDescriptor, req *ChatRequest, stream bool) *openRouterRequest {
	or := &openRouterRequest{
		Model:       model.ProviderModelID,
		Messages:    req.Messages,
		Stream:      stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if req.Reasoning {
		or.Reasoning = &openRouterReason{Enabled: true}
	}
	return or
}

// openRouterText returns choices[0].message.content, or "" if missing.
func openRouterText(raw []byte) string {
	var resp openRouterResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return ""
	}
	return contentText(resp.Choices[0].Message.Content)
}

// contentText flattens the two shapes OpenAI-style content can take: a
// plain string, or a list of {type, text} parts.
func contentText(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, item := range c {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := part["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: Complete
// ---------------------------------------------------------------------------

// Complete sends a non-streaming request to /chat/completions.
func (o *OpenRouterProvider) Complete(ctx context.Context, model ModelDescriptor, req *ChatRequest) (*Completion, error) {
	httpResp, err := postJSON(ctx, o.client, o.baseURL+"/chat/completions", o.headers(), toOpenRouterRequest(model, req, false))
	if err != nil {
		return nil, fmt.Errorf("sending request to openrouter: %w", err)
	}

	if err := checkStatus(KindOpenRouter, httpResp); err != nil {
		return nil, err
	}

	raw, err := readBody(KindOpenRouter, httpResp)
	if err != nil {
		return nil, err
	}

	return &Completion{Text: openRouterText(raw), Raw: raw}, nil
}

// ---------------------------------------------------------------------------
// Streaming: Stream
// ---------------------------------------------------------------------------

// Stream sends the same request with stream: true and returns the open
// SSE body for the router to pipe through.
func (o *OpenRouterProvider) Stream(ctx context.Context, model ModelDescriptor, req *ChatRequest) (io.ReadCloser, error) {
	httpResp, err := postJSON(ctx, o.client, o.baseURL+"/chat/completions", o.headers(), toOpenRouterRequest(model, req, true))
	if err != nil {
		return nil, fmt.Errorf("sending request to openrouter: %w", err)
	}

	if err := checkStatus(KindOpenRouter, httpResp); err != nil {
		return nil, err
	}

	return httpResp.Body, nil
}

// headers builds the auth and attribution headers. OpenRouter uses
// HTTP-Referer and X-Title to attribute traffic to an app; both are
// optional, so empty values are simply not sent.
func (o *OpenRouterProvider) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+o.apiKey)
	if o.appURL != "" {
		h.Set("HTTP-Referer", o.appURL)
	}
	if o.appName != "" {
		h.Set("X-Title", o.appName)
	}
	return h
}
