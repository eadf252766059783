// Package rest is the telemetry store for a hosted Postgres reached through
// its PostgREST API (Supabase). It authenticates every call with the
// service-role key.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/howard-nolan/airouter/internal/telemetry"
)

// errSnippetBytes caps how much of an error body is kept in error messages.
const errSnippetBytes = 512

type Store struct {
	baseURL    string // e.g. https://xyz.supabase.co
	serviceKey string
	client     *http.Client
}

var _ telemetry.Store = (*Store)(nil)

func New(baseURL, serviceKey string, client *http.Client) *Store {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     client,
	}
}

// StatusError is a non-2xx answer from PostgREST.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.Status, e.Body)
}

type sessionRow struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id"`
	SessionDate string     `json:"session_date"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (r sessionRow) session() telemetry.WorkSession {
	return telemetry.WorkSession{
		ID:          r.ID,
		UserID:      r.UserID,
		SessionDate: r.SessionDate,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
	}
}

type eventRow struct {
	SessionID     string         `json:"session_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	ResultSummary *string        `json:"result_summary"`
}

func (s *Store) FindSession(ctx context.Context, userID, date string) (telemetry.WorkSession, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("session_date", "eq."+date)
	q.Set("select", "id,user_id,session_date,started_at")
	q.Set("limit", "1")

	var rows []sessionRow
	if err := s.do(ctx, "find session", http.MethodGet, "/rest/v1/work_sessions?"+q.Encode(), nil, nil, &rows); err != nil {
		return telemetry.WorkSession{}, err
	}
	if len(rows) == 0 {
		return telemetry.WorkSession{}, telemetry.ErrSessionNotFound
	}
	return rows[0].session(), nil
}

// CreateSession inserts a row and returns the stored representation. The
// hosted schema has UNIQUE(user_id, session_date); PostgREST reports a
// violation as 409, which maps to ErrDuplicateSession.
func (s *Store) CreateSession(ctx context.Context, userID, date string, startedAt time.Time) (telemetry.WorkSession, error) {
	body := sessionRow{UserID: userID, SessionDate: date, StartedAt: startedAt.UTC()}
	headers := http.Header{"Prefer": []string{"return=representation"}}

	var rows []sessionRow
	err := s.do(ctx, "create session", http.MethodPost, "/rest/v1/work_sessions", headers, body, &rows)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return telemetry.WorkSession{}, telemetry.ErrDuplicateSession
	}
	if err != nil {
		return telemetry.WorkSession{}, err
	}
	if len(rows) == 0 {
		return telemetry.WorkSession{}, fmt.Errorf("create session: empty representation")
	}
	return rows[0].session(), nil
}

func (s *Store) InsertReviewEvent(ctx context.Context, sessionID, eventType string, payload map[string]any, resultSummary *string) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body := eventRow{SessionID: sessionID, EventType: eventType, Payload: payload, ResultSummary: resultSummary}
	return s.do(ctx, "insert review event", http.MethodPost, "/rest/v1/review_events", nil, body, nil)
}

// do sends one PostgREST call. in is JSON-encoded when non-nil; out is
// decoded from a 2xx body when non-nil.
func (s *Store) do(ctx context.Context, op, method, path string, headers http.Header, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errSnippetBytes))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
