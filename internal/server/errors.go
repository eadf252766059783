package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/howard-nolan/airouter/internal/apierr"
)

// writeJSON sets the Content-Type header, writes the status, and encodes
// v. Headers must be set before WriteHeader; after that they are on the
// wire.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs e, counts it, and sends the {success:false, error}
// envelope with e's status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, providerName string, e *apierr.Error) {
	status := e.HTTPStatus()

	ev := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Err(e.Cause).
		Str("kind", string(e.Kind)).
		Str("provider", providerName).
		Int("status", status).
		Msg(e.Message)

	s.opts.Metrics.ObserveRequest(providerName, string(e.Kind))
	writeJSON(w, status, apierr.BodyOf(e))
}
