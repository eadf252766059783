package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/howard-nolan/airouter/internal/metrics"
)

// Sink runs the "ensure session, then append event" algorithm.
type Sink struct {
	store      Store
	cache      SessionCache
	clock      Clock
	summaryCap int
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type SinkConfig struct {
	Store   Store
	Cache   SessionCache // nil disables memoization
	Clock   Clock        // defaults to SystemClock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// SummaryCap is the maximum number of runes stored in ResultSummary.
	// Zero means DefaultSummaryCap; a negative value disables the cap.
	SummaryCap int
}

func NewSink(cfg SinkConfig) *Sink {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.SummaryCap == 0 {
		cfg.SummaryCap = DefaultSummaryCap
	}
	return &Sink{
		store:      cfg.Store,
		cache:      cfg.Cache,
		clock:      cfg.Clock,
		summaryCap: cfg.SummaryCap,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Record stores ev. It is a no-op when ev.UserID is empty. Errors are
// returned so the Dispatcher can log and count them; code on the request
// path goes through the Dispatcher and never calls Record directly.
func (s *Sink) Record(ctx context.Context, ev Event) error {
	if ev.UserID == "" {
		return nil
	}

	now := s.clock.NowUTC()
	today := now.Format(DateLayout)

	sessionID, err := s.sessionID(ctx, ev.UserID, today, now)
	if err != nil {
		return err
	}

	var summary *string
	if ev.ResultSummary != "" {
		capped := truncateRunes(ev.ResultSummary, s.summaryCap)
		summary = &capped
	}

	eventType := ev.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}

	if err := s.store.InsertReviewEvent(ctx, sessionID, eventType, ev.Payload, summary); err != nil {
		return fmt.Errorf("inserting review event: %w", err)
	}
	return nil
}

// sessionID resolves today's session for userID: cache first, then the
// store, creating the row on the first event of the day.
func (s *Sink) sessionID(ctx context.Context, userID, today string, now time.Time) (string, error) {
	if s.cache != nil {
		id, ok, err := s.cache.Get(ctx, userID, today)
		switch {
		case err != nil:
			// The cache is only a shortcut; fall through to the store.
			s.logger.Warn().Err(err).Msg("session cache lookup failed")
			s.metrics.SessionCacheResult("error")
		case ok:
			s.metrics.SessionCacheResult("hit")
			return id, nil
		default:
			s.metrics.SessionCacheResult("miss")
		}
	}

	session, err := s.ensureSession(ctx, userID, today, now)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, userID, today, session.ID); err != nil {
			s.logger.Warn().Err(err).Msg("session cache store failed")
		}
	}
	return session.ID, nil
}

// ensureSession uses the store's atomic upsert when it has one. Otherwise
// it falls back to lookup-then-insert and, if a unique constraint reports
// that a concurrent writer got there first, looks the winner up.
func (s *Sink) ensureSession(ctx context.Context, userID, today string, now time.Time) (WorkSession, error) {
	if up, ok := s.store.(SessionUpserter); ok {
		session, err := up.EnsureSession(ctx, userID, today, now)
		if err != nil {
			return WorkSession{}, fmt.Errorf("ensuring work session: %w", err)
		}
		return session, nil
	}

	session, err := s.store.FindSession(ctx, userID, today)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return WorkSession{}, fmt.Errorf("finding work session: %w", err)
	}

	session, err = s.store.CreateSession(ctx, userID, today, now)
	if errors.Is(err, ErrDuplicateSession) {
		session, err = s.store.FindSession(ctx, userID, today)
	}
	if err != nil {
		return WorkSession{}, fmt.Errorf("creating work session: %w", err)
	}
	return session, nil
}

func truncateRunes(s string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
