// Package telemetry records a usage event for every completed AI call.
//
// Recording is advisory: the router hands events to a Dispatcher, which
// runs Sink.Record on background workers and swallows every error after
// logging it. Nothing in this package can fail or delay a response.
//
// Each event attaches to a per-user, per-UTC-day WorkSession that is
// created lazily on that user's first event of the day.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// DateLayout is the calendar-day format used for WorkSession.SessionDate.
const DateLayout = "2006-01-02"

// DefaultSummaryCap is the rune cap applied to ReviewEvent.ResultSummary.
const DefaultSummaryCap = 1000

// DefaultEventType is used when the caller does not name one.
const DefaultEventType = "review"

var (
	// ErrSessionNotFound is returned by Store.FindSession when no row
	// exists for the (user, date) pair.
	ErrSessionNotFound = errors.New("telemetry: work session not found")

	// ErrDuplicateSession is returned by Store.CreateSession when a
	// unique (user_id, session_date) constraint rejects the insert,
	// meaning another writer won the race.
	ErrDuplicateSession = errors.New("telemetry: work session already exists")
)

// WorkSession groups a user's events for one calendar day.
type WorkSession struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	SessionDate string     `json:"session_date"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// ReviewEvent is one recorded AI call. Rows are append-only.
type ReviewEvent struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	ResultSummary *string        `json:"result_summary,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Event is what the router submits after a successful call.
type Event struct {
	UserID        string
	EventType     string
	Payload       map[string]any
	ResultSummary string
}

// NewEvent builds an Event the way the router does: the event type falls
// back to "review", and the payload is userEmail merged with the caller's
// eventPayload, with eventPayload keys winning on collision.
func NewEvent(userID, userEmail, eventType string, eventPayload map[string]any, resultSummary string) Event {
	if eventType == "" {
		eventType = DefaultEventType
	}
	payload := make(map[string]any, len(eventPayload)+1)
	payload["userEmail"] = userEmail
	for k, v := range eventPayload {
		payload[k] = v
	}
	return Event{
		UserID:        userID,
		EventType:     eventType,
		Payload:       payload,
		ResultSummary: resultSummary,
	}
}

// Store is the persistence port for sessions and events.
type Store interface {
	FindSession(ctx context.Context, userID, date string) (WorkSession, error)
	CreateSession(ctx context.Context, userID, date string, startedAt time.Time) (WorkSession, error)
	InsertReviewEvent(ctx context.Context, sessionID, eventType string, payload map[string]any, resultSummary *string) error
}

// SessionUpserter is implemented by stores that can find-or-create a
// session atomically. The Sink prefers it over FindSession+CreateSession.
type SessionUpserter interface {
	EnsureSession(ctx context.Context, userID, date string, startedAt time.Time) (WorkSession, error)
}

// SessionCache memoizes (user, date) → session id. A miss or an error only
// costs a store round trip, so implementations may evict freely.
type SessionCache interface {
	Get(ctx context.Context, userID, date string) (string, bool, error)
	Put(ctx context.Context, userID, date, sessionID string) error
}

// Clock abstracts time for deterministic tests and strict UTC usage.
type Clock interface {
	NowUTC() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) NowUTC() time.Time {
	return time.Now().UTC()
}
