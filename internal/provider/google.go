package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultGoogleBaseURL is the public Gemini endpoint.
const DefaultGoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ---------------------------------------------------------------------------
// GoogleProvider struct + constructor
// ---------------------------------------------------------------------------

// GoogleProvider implements the Provider interface for Google's Gemini API.
// It translates our ChatRequest into Gemini's generateContent format, makes
// the HTTP call, and pulls the first candidate's text back out.
type GoogleProvider struct {
	apiKey  string       // sent as the x-goog-api-key header, never in the URL
	baseURL string       // e.g. "https://generativelanguage.googleapis.com/v1beta"
	client  *http.Client // shared client; deadlines come from the request context
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls.
// The *http.Client is injected so tests can point it at a stub server or a
// go-vcr recorder, and main can share one transport across adapters.
func NewGoogleProvider(apiKey, baseURL string, client *http.Client) *GoogleProvider {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Kind returns KindGoogle.
func (g *GoogleProvider) Kind() Kind {
	return KindGoogle
}

// ---------------------------------------------------------------------------
// Gemini API types (unexported, only this file uses them)
// ---------------------------------------------------------------------------

// --- Request types ---

// geminiRequest is the top-level request body for generateContent.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent is one message. Gemini uses "parts" because it supports
// multimodal input; for text we always send a single part.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiGenerationConfig holds the sampling knobs. Every field is a pointer
// with omitempty so only what the caller actually sent goes over the wire.
type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

// --- Response types ---

// geminiResponse is only used for text extraction. The router returns the
// raw body to callers, so fields we don't read are simply not declared.
type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content"`
	FinishReason string         `json:"finishReason"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates a ChatRequest into Gemini's format:
//  1. "assistant" becomes "model", every other role collapses to "user"
//  2. each message becomes a content with a single text part
//  3. system_instruction moves to the top-level systemInstruction field
//  4. temperature / max_tokens / top_p go into generationConfig, only if set
func toGeminiRequest(req *ChatRequest) *geminiRequest {
	gr := &geminiRequest{
		Contents: make([]geminiContent, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	if req.SystemInstruction != "" {
		gr.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemInstruction}},
		}
	}

	// No defaults are injected: if the caller sent none of the three knobs,
	// generationConfig is left out entirely.
	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
		}
	}

	return gr
}

// geminiText walks candidates[0].content.parts[0].text and returns "" if
// any step of the path is missing.
func geminiText(raw []byte) string {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	if len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0].Content
	if c == nil || len(c.Parts) == 0 {
		return ""
	}
	return c.Parts[0].Text
}

// ---------------------------------------------------------------------------
// Non-streaming: Complete
// ---------------------------------------------------------------------------

// Complete sends a non-streaming request to generateContent.
//
// The flow: translate request → HTTP POST → status check → keep raw body →
// extract text.
func (g *GoogleProvider) Complete(ctx context.Context, model ModelDescriptor, req *ChatRequest) (*Completion, error) {
	// Step 1: Build the URL. The model id lives in the path, not the body.
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model.ProviderModelID)

	// Step 2: Send it.
	httpResp, err := postJSON(ctx, g.client, url, g.headers(), toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("sending request to gemini: %w", err)
	}

	// Step 3: Non-2xx becomes an UpstreamError carrying the raw body text.
	if err := checkStatus(KindGoogle, httpResp); err != nil {
		return nil, err
	}

	// Step 4: Keep the body verbatim for the envelope's data field, then
	// extract the first candidate's text from it.
	raw, err := readBody(KindGoogle, httpResp)
	if err != nil {
		return nil, err
	}

	return &Completion{Text: geminiText(raw), Raw: raw}, nil
}

// ---------------------------------------------------------------------------
// Streaming: Stream
// ---------------------------------------------------------------------------

// Stream posts to streamGenerateContent?alt=sse and hands back the open
// response body. The router copies it to the client untouched, so there is
// no SSE parsing here.
func (g *GoogleProvider) Stream(ctx context.Context, model ModelDescriptor, req *ChatRequest) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, model.ProviderModelID)

	httpResp, err := postJSON(ctx, g.client, url, g.headers(), toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("sending request to gemini: %w", err)
	}

	// Check for HTTP errors BEFORE handing the body over, so a 401 or 429
	// is reported as a JSON error instead of being piped as if it were SSE.
	if err := checkStatus(KindGoogle, httpResp); err != nil {
		return nil, err
	}

	return httpResp.Body, nil
}

func (g *GoogleProvider) headers() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", g.apiKey)
	return h
}
