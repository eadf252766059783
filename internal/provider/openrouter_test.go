package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deepseek = ModelDescriptor{Key: "deepseek-v3.1", Provider: KindOpenRouter, ProviderModelID: "deepseek/deepseek-chat-v3.1:free"}

func TestOpenRouterComplete(t *testing.T) {
	const upstream = `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"hi there"}}]}`

	var gotHeaders http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, upstream)
	}))
	defer srv.Close()

	o := NewOpenRouterProvider("or-key", srv.URL, "https://app.example", "Reviewer", srv.Client())
	out, err := o.Complete(context.Background(), deepseek, &ChatRequest{
		Model:     "deepseek-v3.1",
		Messages:  []Message{{Role: "user", Content: "hello"}},
		Reasoning: true,
		TopP:      ptr(0.9),
	})
	require.NoError(t, err)

	assert.Equal(t, "hi there", out.Text)
	assert.JSONEq(t, upstream, string(out.Raw))

	assert.Equal(t, "Bearer or-key", gotHeaders.Get("Authorization"))
	assert.Equal(t, "https://app.example", gotHeaders.Get("HTTP-Referer"))
	assert.Equal(t, "Reviewer", gotHeaders.Get("X-Title"))

	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", gotBody["model"])
	assert.Equal(t, map[string]any{"enabled": true}, gotBody["reasoning"])
	assert.Equal(t, 0.9, gotBody["top_p"])
	assert.NotContains(t, gotBody, "temperature")
	assert.NotContains(t, gotBody, "max_tokens")
	assert.NotContains(t, gotBody, "stream")
	assert.Equal(t, []any{map[string]any{"role": "user", "content": "hello"}}, gotBody["messages"])
}

func TestOpenRouterText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain", `{"choices":[{"message":{"content":"x"}}]}`, "x"},
		{"null content", `{"choices":[{"message":{"content":null}}]}`, ""},
		{"no message", `{"choices":[{}]}`, ""},
		{"no choices", `{"error":"nope"}`, ""},
		{"parts", `{"choices":[{"message":{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}}]}`, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, openRouterText([]byte(tt.body)))
		})
	}
}

func TestOpenRouterComplete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "No auth credentials found")
	}))
	defer srv.Close()

	o := NewOpenRouterProvider("bad", srv.URL, "", "", srv.Client())
	_, err := o.Complete(context.Background(), deepseek, &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.Equal(t, "OpenRouter API Error: No auth credentials found", upErr.Error())
}

func TestOpenRouterStream_SetsStreamFlag(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenRouterProvider("k", srv.URL, "", "", srv.Client())
	body, err := o.Stream(context.Background(), deepseek, &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	defer body.Close()

	got, _ := io.ReadAll(body)
	assert.Equal(t, "data: [DONE]\n\n", string(got))
	assert.Equal(t, true, gotBody["stream"])
}
