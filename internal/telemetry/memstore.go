package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions and events in process memory. It backs the
// "memory" store setting for local runs and is the reference Store in
// tests. It enforces one session per (user, date) like the SQL schema.
type MemoryStore struct {
	clock Clock

	mu       sync.Mutex
	sessions map[string]WorkSession // keyed by cacheKey(user, date)
	events   []ReviewEvent
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryStore{clock: clock, sessions: make(map[string]WorkSession)}
}

func (m *MemoryStore) FindSession(_ context.Context, userID, date string) (WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cacheKey(userID, date)]
	if !ok {
		return WorkSession{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, userID, date string, startedAt time.Time) (WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(userID, date)
	if _, ok := m.sessions[key]; ok {
		return WorkSession{}, ErrDuplicateSession
	}
	s := WorkSession{ID: uuid.NewString(), UserID: userID, SessionDate: date, StartedAt: startedAt}
	m.sessions[key] = s
	return s, nil
}

func (m *MemoryStore) EnsureSession(_ context.Context, userID, date string, startedAt time.Time) (WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(userID, date)
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	s := WorkSession{ID: uuid.NewString(), UserID: userID, SessionDate: date, StartedAt: startedAt}
	m.sessions[key] = s
	return s, nil
}

func (m *MemoryStore) InsertReviewEvent(_ context.Context, sessionID, eventType string, payload map[string]any, resultSummary *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ReviewEvent{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		EventType:     eventType,
		Payload:       payload,
		ResultSummary: resultSummary,
		CreatedAt:     m.clock.NowUTC(),
	})
	return nil
}

// Sessions returns a snapshot of every stored session.
func (m *MemoryStore) Sessions() []WorkSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Events returns a snapshot of every stored event, oldest first.
func (m *MemoryStore) Events() []ReviewEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReviewEvent(nil), m.events...)
}
