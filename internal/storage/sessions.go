package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/howard-nolan/airouter/internal/telemetry"
)

var (
	_ telemetry.Store           = (*Store)(nil)
	_ telemetry.SessionUpserter = (*Store)(nil)
)

func (s *Store) FindSession(ctx context.Context, userID, date string) (telemetry.WorkSession, error) {
	q := s.sql.Select("id", "started_at").
		From("work_sessions").
		Where(sq.Eq{"user_id": userID, "session_date": date}).
		Limit(1)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return telemetry.WorkSession{}, fmt.Errorf("build find session query: %w", err)
	}

	var id string
	var startedAt any
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id, &startedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return telemetry.WorkSession{}, telemetry.ErrSessionNotFound
		}
		return telemetry.WorkSession{}, fmt.Errorf("find session: %w", err)
	}

	started, err := scanTime(startedAt)
	if err != nil {
		return telemetry.WorkSession{}, fmt.Errorf("find session: %w", err)
	}
	return telemetry.WorkSession{ID: id, UserID: userID, SessionDate: date, StartedAt: started}, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, date string, startedAt time.Time) (telemetry.WorkSession, error) {
	id := uuid.NewString()
	q := s.sql.Insert("work_sessions").
		Columns("id", "user_id", "session_date", "started_at").
		Values(id, userID, date, s.timeArg(startedAt))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return telemetry.WorkSession{}, fmt.Errorf("build create session query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return telemetry.WorkSession{}, telemetry.ErrDuplicateSession
		}
		return telemetry.WorkSession{}, fmt.Errorf("create session: %w", err)
	}
	return telemetry.WorkSession{ID: id, UserID: userID, SessionDate: date, StartedAt: startedAt.UTC()}, nil
}

// EnsureSession inserts the day's session if it is missing and returns
// whichever row exists afterwards. ON CONFLICT DO NOTHING makes concurrent
// first events converge on a single row.
func (s *Store) EnsureSession(ctx context.Context, userID, date string, startedAt time.Time) (telemetry.WorkSession, error) {
	q := s.sql.Insert("work_sessions").
		Columns("id", "user_id", "session_date", "started_at").
		Values(uuid.NewString(), userID, date, s.timeArg(startedAt)).
		Suffix("ON CONFLICT (user_id, session_date) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return telemetry.WorkSession{}, fmt.Errorf("build ensure session query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return telemetry.WorkSession{}, fmt.Errorf("ensure session: %w", err)
	}
	return s.FindSession(ctx, userID, date)
}

func (s *Store) InsertReviewEvent(ctx context.Context, sessionID, eventType string, payload map[string]any, resultSummary *string) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	var summary sql.NullString
	if resultSummary != nil {
		summary = sql.NullString{String: *resultSummary, Valid: true}
	}

	q := s.sql.Insert("review_events").
		Columns("id", "session_id", "event_type", "payload", "result_summary", "created_at").
		Values(uuid.NewString(), sessionID, eventType, string(payloadJSON), summary, s.timeArg(s.clock.NowUTC()))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert event query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert review event: %w", err)
	}
	return nil
}

// ListEvents returns a session's events, newest first.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]telemetry.ReviewEvent, error) {
	q := s.sql.Select("id", "event_type", "payload", "result_summary", "created_at").
		From("review_events").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list events query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []telemetry.ReviewEvent
	for rows.Next() {
		var (
			ev        telemetry.ReviewEvent
			payload   []byte
			summary   sql.NullString
			createdAt any
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &payload, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		if summary.Valid {
			ev.ResultSummary = &summary.String
		}
		if ev.CreatedAt, err = scanTime(createdAt); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		out = append(out, ev)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
