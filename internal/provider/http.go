package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of an upstream body we buffer for the
// non-streaming path. Gemini and OpenRouter answers are far below this.
const maxResponseBytes = 8 << 20

// postJSON marshals payload, POSTs it to url with the given headers, and
// returns the raw response. Status handling is left to the caller because
// the streaming path must not read the body.
func postJSON(ctx context.Context, client *http.Client, url string, headers http.Header, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	return client.Do(httpReq)
}

// checkStatus turns a non-2xx response into *UpstreamError, consuming and
// closing the body. The body text is kept verbatim.
func checkStatus(kind Kind, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()
	raw, _ := readAllLimit(resp.Body, maxResponseBytes)
	return &UpstreamError{Provider: kind, Status: resp.StatusCode, Body: string(raw)}
}

// readBody reads a successful non-streaming response and checks that it is
// JSON, since the router embeds it verbatim in its own envelope.
func readBody(kind Kind, resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()
	raw, err := readAllLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", kind, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decoding %s response: body is not valid JSON", kind)
	}
	return json.RawMessage(raw), nil
}

func readAllLimit(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}
