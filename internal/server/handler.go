package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/howard-nolan/airouter/internal/apierr"
	"github.com/howard-nolan/airouter/internal/provider"
	"github.com/howard-nolan/airouter/internal/stream"
	"github.com/howard-nolan/airouter/internal/telemetry"
)

// errUpstreamTimeout is the cancellation cause set when
// server.upstream_timeout fires. Checking the cause, rather than
// ctx.Err(), tells a slow provider apart from a client that hung up.
var errUpstreamTimeout = errors.New("upstream timeout")

// NormalizedResponse is the success envelope for non-streaming calls.
// Data is the provider's body untouched; Message carries the extracted
// text so simple clients never have to know which provider answered.
type NormalizedResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message AssistantReply  `json:"message"`
}

type AssistantReply struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleHealth is a basic liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat is the router endpoint. It validates the request, picks the
// adapter for the requested model, and either returns the normalized
// response or pipes the provider's event stream through.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	// Step 1: Method handling. The preflight is answered here rather than
	// by a CORS library because the endpoint only ever needs these three
	// headers.
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		s.writeError(w, r, "", apierr.MethodNotAllowed())
		return
	}

	// Step 2: Decode and validate. Nothing below this point runs for a
	// request that fails here, so an invalid model never reaches a
	// provider.
	req, apiErr := s.decodeRequest(w, r)
	if apiErr != nil {
		s.writeError(w, r, "", apiErr)
		return
	}

	model, ok := s.opts.Catalog.Resolve(req.Model)
	if !ok {
		s.writeError(w, r, "", apierr.UnknownModel(req.Model))
		return
	}

	// Step 3: Pick the adapter. Set.For is exhaustive over Kind, so
	// exactly one adapter handles the call.
	p, err := s.opts.Providers.For(model.Provider)
	if err != nil {
		s.writeError(w, r, model.Provider.String(), apierr.Internal(err))
		return
	}

	hlog.FromRequest(r).Debug().
		Str("model", model.Key).
		Str("provider", model.Provider.String()).
		Bool("stream", req.Stream).
		Msg("dispatching")

	if req.Stream {
		s.serveStream(w, r, p, model, req)
		return
	}
	s.serveComplete(w, r, p, model, req)
}

// decodeRequest reads the capped body and applies the validation rules in
// order: valid JSON, a non-empty messages array of objects, then the
// default model when none was given.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*provider.ChatRequest, *apierr.Error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		return nil, apierr.InvalidBody(err)
	}

	// First pass: only look at the top-level fields, so a bad messages
	// value is reported as InvalidMessages and not as a decode error.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, apierr.InvalidBody(err)
	}
	if !validMessages(fields["messages"]) {
		return nil, apierr.InvalidMessages()
	}

	var req provider.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apierr.InvalidBody(err)
	}
	if req.Model == "" {
		req.Model = s.opts.DefaultModel
	}
	return &req, nil
}

// validMessages reports whether raw is a non-empty JSON array whose items
// are all objects.
func validMessages(raw json.RawMessage) bool {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		return false
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return false
		}
	}
	return true
}

// serveComplete handles the non-streaming path.
func (s *Server) serveComplete(w http.ResponseWriter, r *http.Request, p provider.Provider, model provider.ModelDescriptor, req *provider.ChatRequest) {
	ctx, cancel := s.upstreamContext(r.Context())
	defer cancel()

	start := time.Now()
	completion, err := p.Complete(ctx, model, req)
	s.opts.Metrics.ObserveUpstream(model.Provider.String(), time.Since(start))
	if err != nil {
		s.writeError(w, r, model.Provider.String(), upstreamError(ctx, err))
		return
	}

	writeJSON(w, http.StatusOK, NormalizedResponse{
		Success: true,
		Data:    completion.Raw,
		Message: AssistantReply{Role: "assistant", Content: completion.Text},
	})
	s.opts.Metrics.ObserveRequest(model.Provider.String(), "ok")

	// The response is already written. Telemetry is handed off and can
	// no longer change what the caller sees.
	s.submitTelemetry(r, req, completion.Text)
}

// serveStream handles the streaming path. The timeout only covers the
// wait for the provider's response headers; once the stream starts it
// runs until the provider or the client ends it.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, p provider.Provider, model provider.ModelDescriptor, req *provider.ChatRequest) {
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	var timer *time.Timer
	if s.opts.UpstreamTimeout > 0 {
		timer = time.AfterFunc(s.opts.UpstreamTimeout, func() { cancel(errUpstreamTimeout) })
	}

	start := time.Now()
	body, err := p.Stream(ctx, model, req)
	s.opts.Metrics.ObserveUpstream(model.Provider.String(), time.Since(start))
	if timer != nil && !timer.Stop() && err == nil {
		// The timer fired just as the headers arrived. The context is
		// already cancelled, so the body would fail on first read.
		body.Close()
		err = context.Cause(ctx)
	}
	if err != nil {
		s.writeError(w, r, model.Provider.String(), upstreamError(ctx, err))
		return
	}
	defer body.Close()

	n, err := stream.Pipe(w, body)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Int64("bytes", n).Msg("stream ended early")
	}
	s.opts.Metrics.ObserveRequest(model.Provider.String(), "stream")
}

// upstreamContext derives the context for a non-streaming provider call.
func (s *Server) upstreamContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.opts.UpstreamTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeoutCause(parent, s.opts.UpstreamTimeout, errUpstreamTimeout)
}

// upstreamError classifies a failed provider call.
func upstreamError(ctx context.Context, err error) *apierr.Error {
	var ue *provider.UpstreamError
	switch {
	case errors.As(err, &ue):
		return apierr.Upstream(ue.Status, ue.Error(), err)
	case errors.Is(context.Cause(ctx), errUpstreamTimeout):
		return apierr.UpstreamTimeout(err)
	default:
		return apierr.Internal(err)
	}
}

// submitTelemetry hands a usage event to the dispatcher when the request
// carried a telemetry block with a userId.
func (s *Server) submitTelemetry(r *http.Request, req *provider.ChatRequest, text string) {
	meta := req.Telemetry
	if meta == nil || meta.UserID == "" || s.opts.Telemetry == nil {
		return
	}
	log := hlog.FromRequest(r)

	// With a verifier configured, only the token's owner can attribute
	// events to a userId. A failed check drops the event and nothing else.
	if s.opts.Verifier != nil {
		sub, err := s.opts.Verifier.Subject(r)
		if err != nil {
			log.Warn().Err(err).Msg("telemetry skipped: bearer token rejected")
			return
		}
		if sub != meta.UserID {
			log.Warn().Msg("telemetry skipped: token subject does not match userId")
			return
		}
	}

	ev := telemetry.NewEvent(meta.UserID, meta.UserEmail, meta.EventType, meta.EventPayload, text)
	if !s.opts.Telemetry.Submit(ev) {
		log.Debug().Str("event_type", ev.EventType).Msg("telemetry event not queued")
	}
}
