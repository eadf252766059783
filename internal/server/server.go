// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/howard-nolan/airouter/internal/auth"
	"github.com/howard-nolan/airouter/internal/metrics"
	"github.com/howard-nolan/airouter/internal/provider"
	"github.com/howard-nolan/airouter/internal/telemetry"
)

// EventSubmitter is the part of telemetry.Dispatcher the handlers use.
// Submit must never block.
type EventSubmitter interface {
	Submit(ev telemetry.Event) bool
}

// Options is everything the server needs, built once in main.
type Options struct {
	Catalog   *provider.Catalog
	Providers provider.Set

	// Telemetry may be nil, in which case nothing is recorded.
	Telemetry EventSubmitter

	// Verifier may be nil. When set, a telemetry userId is only honored
	// if the request's bearer token belongs to that user.
	Verifier *auth.Verifier

	Metrics *metrics.Metrics
	Logger  zerolog.Logger

	DefaultModel    string
	UpstreamTimeout time.Duration // 0 means no limit
	MaxBodyBytes    int64

	// MetricsPath and MetricsHandler are mounted together when both are set.
	MetricsPath    string
	MetricsHandler http.Handler
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	opts   Options
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(opts Options) *Server {
	if opts.Catalog == nil {
		opts.Catalog = provider.BuiltinCatalog()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	s := &Server{opts: opts}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// CORS goes first so that even panics and 404s carry the header.
	r.Use(allowAnyOrigin)
	r.Use(middleware.RealIP)

	// hlog.NewHandler stores the logger in each request's context, so
	// handlers can call hlog.FromRequest(r) and get a logger that already
	// carries the request id.
	r.Use(hlog.NewHandler(s.opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))

	// middleware.Recoverer catches panics in handlers and returns a 500
	// instead of crashing the whole process.
	r.Use(middleware.Recoverer)

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	if s.opts.MetricsHandler != nil && s.opts.MetricsPath != "" {
		r.Handle(s.opts.MetricsPath, s.opts.MetricsHandler)
	}

	// The chat endpoint answers every method itself: OPTIONS for the
	// preflight, POST for real work, and 405 for everything else.
	r.HandleFunc("/", s.handleChat)
	r.HandleFunc("/v1/chat", s.handleChat)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// allowAnyOrigin sets Access-Control-Allow-Origin on every response. The
// callers are browser extensions and web apps on arbitrary origins.
func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
