package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/airouter/internal/auth"
	"github.com/howard-nolan/airouter/internal/provider"
	"github.com/howard-nolan/airouter/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// upstreamStub is an httptest server that counts calls and answers with a
// fixed status and body.
type upstreamStub struct {
	*httptest.Server
	calls atomic.Int32
}

func newUpstream(t *testing.T, status int, contentType, body string) *upstreamStub {
	t.Helper()
	u := &upstreamStub{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.Close)
	return u
}

// recordingSubmitter captures submitted telemetry events.
type recordingSubmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingSubmitter) Submit(ev telemetry.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingSubmitter) Events() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

// slowProvider blocks until its context ends, for timeout tests. For
// streams, a non-nil streamBody is returned immediately instead.
type slowProvider struct {
	kind       provider.Kind
	streamBody io.ReadCloser
}

func (s *slowProvider) Kind() provider.Kind { return s.kind }

func (s *slowProvider) Complete(ctx context.Context, _ provider.ModelDescriptor, _ *provider.ChatRequest) (*provider.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *slowProvider) Stream(ctx context.Context, _ provider.ModelDescriptor, _ *provider.ChatRequest) (io.ReadCloser, error) {
	if s.streamBody != nil {
		return s.streamBody, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// lateReader delivers its payload only after a delay.
type lateReader struct {
	delay time.Duration
	r     io.Reader
	once  sync.Once
}

func (l *lateReader) Read(p []byte) (int, error) {
	l.once.Do(func() { time.Sleep(l.delay) })
	return l.r.Read(p)
}

func (l *lateReader) Close() error { return nil }

func newTestServer(opts Options) *Server {
	opts.Logger = zerolog.Nop()
	if opts.DefaultModel == "" {
		opts.DefaultModel = "gpt-oss-20b"
	}
	return New(opts)
}

func openRouterSet(u *upstreamStub) provider.Set {
	return provider.Set{
		OpenRouter: provider.NewOpenRouterProvider("or-key", u.URL, "", "", u.Client()),
	}
}

func post(t *testing.T, h http.Handler, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestChat_DeepseekEndToEnd(t *testing.T) {
	const upstream = `{"choices":[{"message":{"content":"hi there"}}]}`
	u := newUpstream(t, http.StatusOK, "application/json", upstream)
	srv := newTestServer(Options{Providers: openRouterSet(u)})

	rec := post(t, srv, "/", `{"model":"deepseek-v3.1","messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{
		"success": true,
		"message": {"role": "assistant", "content": "hi there"},
		"data": {"choices": [{"message": {"content": "hi there"}}]}
	}`, rec.Body.String())
}

func TestChat_GoogleModel(t *testing.T) {
	const upstream = `{"candidates":[{"content":{"parts":[{"text":"from gemini"}]}}]}`
	u := newUpstream(t, http.StatusOK, "application/json", upstream)
	srv := newTestServer(Options{Providers: provider.Set{
		Google: provider.NewGoogleProvider("g-key", u.URL, u.Client()),
	}})

	rec := post(t, srv, "/v1/chat", `{"model":"gemini-2.5-flash","messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "from gemini", body["message"].(map[string]any)["content"])
}

func TestChat_DefaultModelWhenEmpty(t *testing.T) {
	var gotModel string
	u := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer u.Close()

	srv := newTestServer(Options{Providers: provider.Set{
		OpenRouter: provider.NewOpenRouterProvider("k", u.URL, "", "", u.Client()),
	}})
	rec := post(t, srv, "/", `{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "openai/gpt-oss-20b:free", gotModel)
}

func TestChat_ValidationMakesNoUpstreamCall(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "unknown model", body: `{"model":"gpt-9","messages":[{"role":"user","content":"x"}]}`, wantErr: "Unknown model: gpt-9"},
		{name: "messages missing", body: `{"model":"deepseek-v3.1"}`, wantErr: "Messages array is required"},
		{name: "messages not array", body: `{"model":"deepseek-v3.1","messages":"hello"}`, wantErr: "Messages array is required"},
		{name: "messages null", body: `{"model":"deepseek-v3.1","messages":null}`, wantErr: "Messages array is required"},
		{name: "messages empty", body: `{"model":"deepseek-v3.1","messages":[]}`, wantErr: "Messages array is required"},
		{name: "message not object", body: `{"model":"deepseek-v3.1","messages":["hello"]}`, wantErr: "Messages array is required"},
		{name: "malformed json", body: `{"model":`, wantErr: "Invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpstream(t, http.StatusOK, "application/json", `{}`)
			srv := newTestServer(Options{Providers: openRouterSet(u)})

			rec := post(t, srv, "/", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"success": false, "error": tt.wantErr}, decodeBody(t, rec))
			assert.Zero(t, u.calls.Load(), "no upstream call expected")
		})
	}
}

func TestChat_UpstreamStatusMirrored(t *testing.T) {
	u := newUpstream(t, http.StatusTooManyRequests, "application/json", `{"error":{"message":"rate limited"}}`)
	srv := newTestServer(Options{Providers: openRouterSet(u)})

	rec := post(t, srv, "/", `{"model":"kimi-k2","messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, `OpenRouter API Error: {"error":{"message":"rate limited"}}`, body["error"])
}

func TestChat_UpstreamTimeout(t *testing.T) {
	srv := newTestServer(Options{
		Providers:       provider.Set{OpenRouter: &slowProvider{kind: provider.KindOpenRouter}},
		UpstreamTimeout: 30 * time.Millisecond,
	})

	rec := post(t, srv, "/", `{"model":"kimi-k2","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = post(t, srv, "/", `{"model":"kimi-k2","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestChat_StreamNotCutAfterHeaders(t *testing.T) {
	const payload = "data: {\"x\":1}\n\n"
	srv := newTestServer(Options{
		Providers: provider.Set{OpenRouter: &slowProvider{
			kind:       provider.KindOpenRouter,
			streamBody: &lateReader{delay: 80 * time.Millisecond, r: strings.NewReader(payload)},
		}},
		UpstreamTimeout: 20 * time.Millisecond,
	})

	rec := post(t, srv, "/", `{"model":"kimi-k2","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())
}

func TestChat_StreamPassThrough(t *testing.T) {
	const sse = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n: keep-alive\n\ndata: [DONE]\n\n"
	u := newUpstream(t, http.StatusOK, "text/event-stream", sse)
	submitter := &recordingSubmitter{}
	srv := newTestServer(Options{Providers: openRouterSet(u), Telemetry: submitter})

	rec := post(t, srv, "/", `{"model":"deepseek-v3.1","stream":true,"messages":[{"role":"user","content":"hi"}],"telemetry":{"userId":"u1"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, sse, rec.Body.String())
	assert.Empty(t, submitter.Events(), "streaming responses are not recorded")
}

func TestChat_StreamUpstreamError(t *testing.T) {
	u := newUpstream(t, http.StatusUnauthorized, "application/json", `bad key`)
	srv := newTestServer(Options{Providers: openRouterSet(u)})

	rec := post(t, srv, "/", `{"model":"deepseek-v3.1","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OpenRouter API Error: bad key", decodeBody(t, rec)["error"])
}

func TestChat_Methods(t *testing.T) {
	srv := newTestServer(Options{})

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/v1/chat", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, map[string]any{"success": false, "error": "Method not allowed. Use POST."}, decodeBody(t, rec))
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChat_TelemetrySubmitted(t *testing.T) {
	u := newUpstream(t, http.StatusOK, "application/json", `{"choices":[{"message":{"content":"LGTM"}}]}`)
	submitter := &recordingSubmitter{}
	srv := newTestServer(Options{Providers: openRouterSet(u), Telemetry: submitter})

	rec := post(t, srv, "/", `{
		"model":"deepseek-v3.1",
		"messages":[{"role":"user","content":"review"}],
		"telemetry":{"userId":"u1","userEmail":"u1@x.io","eventPayload":{"files":2}}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := submitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "review", events[0].EventType)
	assert.Equal(t, "LGTM", events[0].ResultSummary)
	assert.Equal(t, map[string]any{"userEmail": "u1@x.io", "files": 2.0}, events[0].Payload)
}

// outageStore fails every call, like a hosted store that is down.
type outageStore struct{}

var errOutage = errors.New("store unavailable")

func (outageStore) FindSession(context.Context, string, string) (telemetry.WorkSession, error) {
	return telemetry.WorkSession{}, errOutage
}

func (outageStore) CreateSession(context.Context, string, string, time.Time) (telemetry.WorkSession, error) {
	return telemetry.WorkSession{}, errOutage
}

func (outageStore) InsertReviewEvent(context.Context, string, string, map[string]any, *string) error {
	return errOutage
}

func TestChat_TelemetryOutageDoesNotChangeResponse(t *testing.T) {
	const request = `{"model":"deepseek-v3.1","messages":[{"role":"user","content":"hi"}],"telemetry":{"userId":"u1"}}`
	u := newUpstream(t, http.StatusOK, "application/json", `{"choices":[{"message":{"content":"hi there"}}]}`)

	baseline := post(t, newTestServer(Options{Providers: openRouterSet(u)}), "/", request)

	var failures atomic.Int32
	dispatcher := telemetry.NewDispatcher(telemetry.DispatcherConfig{
		Recorder: recorderFunc(func(ctx context.Context, ev telemetry.Event) error {
			err := telemetry.NewSink(telemetry.SinkConfig{Store: outageStore{}, Logger: zerolog.Nop()}).Record(ctx, ev)
			if err != nil {
				failures.Add(1)
			}
			return err
		}),
		Workers: 1,
		Logger:  zerolog.Nop(),
	})
	dispatcher.Start()

	withOutage := post(t, newTestServer(Options{Providers: openRouterSet(u), Telemetry: dispatcher}), "/", request)
	require.NoError(t, dispatcher.Close(context.Background()))

	assert.Equal(t, int32(1), failures.Load(), "the store outage was hit")
	assert.Equal(t, baseline.Code, withOutage.Code)
	assert.Equal(t, baseline.Body.String(), withOutage.Body.String())
}

type recorderFunc func(ctx context.Context, ev telemetry.Event) error

func (f recorderFunc) Record(ctx context.Context, ev telemetry.Event) error { return f(ctx, ev) }

func TestChat_TelemetryIdentityCheck(t *testing.T) {
	const secret = "jwt-secret"
	token := func(sub string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + s
	}
	const request = `{"model":"deepseek-v3.1","messages":[{"role":"user","content":"hi"}],"telemetry":{"userId":"u1"}}`

	tests := []struct {
		name       string
		authHeader string
		wantEvents int
	}{
		{name: "matching subject", authHeader: token("u1"), wantEvents: 1},
		{name: "other subject", authHeader: token("u2"), wantEvents: 0},
		{name: "no token", authHeader: "", wantEvents: 0},
		{name: "garbage token", authHeader: "Bearer nope", wantEvents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpstream(t, http.StatusOK, "application/json", `{"choices":[{"message":{"content":"ok"}}]}`)
			submitter := &recordingSubmitter{}
			srv := newTestServer(Options{
				Providers: openRouterSet(u),
				Telemetry: submitter,
				Verifier:  auth.NewVerifier(secret),
			})

			var rec *httptest.ResponseRecorder
			if tt.authHeader == "" {
				rec = post(t, srv, "/", request)
			} else {
				rec = post(t, srv, "/", request, "Authorization", tt.authHeader)
			}

			assert.Equal(t, http.StatusOK, rec.Code, "identity check never changes the response")
			assert.Len(t, submitter.Events(), tt.wantEvents)
		})
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	u := newUpstream(t, http.StatusOK, "application/json", `{}`)
	srv := newTestServer(Options{Providers: openRouterSet(u), MaxBodyBytes: 64})

	rec := post(t, srv, "/", `{"model":"kimi-k2","messages":[{"role":"user","content":"`+strings.Repeat("a", 200)+`"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, u.calls.Load())
}

func TestChat_ProviderNotConfigured(t *testing.T) {
	srv := newTestServer(Options{})
	rec := post(t, srv, "/", `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
