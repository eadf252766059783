// Package stream pipes an upstream Server-Sent Events body to the client.
package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// bufSize is the read size for each copy step. Provider SSE events are
// small, so this mostly bounds how much sits in memory between flushes.
const bufSize = 32 << 10

// Pipe writes the SSE response headers and copies body to w unmodified,
// flushing after every read so the client sees each event as soon as the
// upstream sends it.
//
// The router does not parse, re-frame, or normalize events here: whatever
// the provider emits (Gemini's candidates chunks, OpenRouter's
// chat.completion.chunk events, keep-alive comments) reaches the client
// byte for byte. It returns the number of bytes written.
func Pipe(w http.ResponseWriter, body io.Reader) (int64, error) {
	// --- Step 1: Set SSE headers ---
	//
	// These MUST be set before the first Write; once the body starts,
	// headers are already on the wire.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// --- Step 2: Find a flusher ---
	//
	// http.NewResponseController follows Unwrap() through middleware
	// wrappers, which a bare w.(http.Flusher) assertion would not. If
	// nothing in the chain can flush we still copy everything; the client
	// just receives it in larger pieces.
	rc := http.NewResponseController(w)
	canFlush := true
	flush := func() {
		if !canFlush {
			return
		}
		if err := rc.Flush(); errors.Is(err, http.ErrNotSupported) {
			canFlush = false
		}
	}
	flush()

	// --- Step 3: Copy and flush ---
	var written int64
	buf := make([]byte, bufSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, fmt.Errorf("writing SSE bytes: %w", err)
			}
			flush()
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			// Headers are already sent, so the status can't change. The
			// client sees the stream end early.
			return written, fmt.Errorf("reading upstream stream: %w", readErr)
		}
	}
}
