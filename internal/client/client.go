// Package client calls a running airouter over HTTP and reconciles the
// answer into plain text, the way the browser extension does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/howard-nolan/airouter/internal/provider"
	"github.com/howard-nolan/airouter/internal/reconcile"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// maxReplyBytes bounds how much of a response is buffered.
const maxReplyBytes = 8 << 20

// Client talks to one router endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the overall timeout of the underlying *http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{endpoint: endpoint, http: &http.Client{Timeout: 2 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx answer from the router.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("AI API Error (%d): %s", e.Status, e.Body)
}

// Reply is a reconciled answer plus the body it came from.
type Reply struct {
	Text string
	Raw  json.RawMessage
}

// Chat sends a non-streaming request. Temperature and max_tokens default
// to 0.7 and 2000 when unset; the request passed in is not modified.
func (c *Client) Chat(ctx context.Context, req *provider.ChatRequest) (Reply, error) {
	out := withDefaults(req)
	out.Stream = false

	resp, err := c.post(ctx, out)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("reading router response: %w", err)
	}

	text, err := reconcile.ExtractJSON(raw)
	if err != nil {
		return Reply{Raw: raw}, err
	}
	return Reply{Text: text, Raw: raw}, nil
}

// Stream sends a streaming request and copies the event stream to w as it
// arrives. It returns the number of bytes copied.
func (c *Client) Stream(ctx context.Context, req *provider.ChatRequest, w io.Writer) (int64, error) {
	out := withDefaults(req)
	out.Stream = true

	resp, err := c.post(ctx, out)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading stream: %w", err)
	}
	return n, nil
}

// post sends req and returns the response once its status is known to be
// 2xx. Any other status is turned into *StatusError.
func (c *Client) post(ctx context.Context, req *provider.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling router: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func withDefaults(req *provider.ChatRequest) *provider.ChatRequest {
	out := *req
	if out.Temperature == nil {
		t := DefaultTemperature
		out.Temperature = &t
	}
	if out.MaxTokens == nil {
		n := DefaultMaxTokens
		out.MaxTokens = &n
	}
	return &out
}
