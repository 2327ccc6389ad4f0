package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PromotionThreshold is the salience a session-tier memory must exceed to
// be promoted to the project tier when its session ends.
const PromotionThreshold = 0.7

// UsageType tags how a session touched a memory.
type UsageType string

const (
	UsageCreated    UsageType = "created"
	UsageRecalled   UsageType = "recalled"
	UsageUpdated    UsageType = "updated"
	UsageReinforced UsageType = "reinforced"
)

func (u UsageType) valid() bool {
	switch u {
	case UsageCreated, UsageRecalled, UsageUpdated, UsageReinforced:
		return true
	}
	return false
}

// Session is a bounded interaction window.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	StartedAt int64  `json:"started_at"`
	EndedAt   *int64 `json:"ended_at,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

const sessionColumns = `id, project_id, started_at, ended_at, summary`

// InitSession returns the session with the given id, creating it if it
// does not exist yet.
func (db *DB) InitSession(ctx context.Context, id, projectID string) (*Session, error) {
	if id == "" || projectID == "" {
		return nil, fmt.Errorf("init session: %w", ErrInvalidInput)
	}
	if err := ensureSession(ctx, db, id, projectID, time.Now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	return db.GetSession(ctx, id)
}

func ensureSession(ctx context.Context, q queryer, id, projectID string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, project_id, started_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, projectID, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	s, err := getSession(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

func getSession(ctx context.Context, q queryer, id string) (*Session, error) {
	var s Session
	var endedAt sql.NullInt64
	var summary sql.NullString
	err := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.ProjectID, &s.StartedAt, &endedAt, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Int64
	}
	s.Summary = summary.String
	return &s, nil
}

// EndSession closes a session and promotes its session-tier memories whose
// salience exceeds PromotionThreshold. The end timestamp is kept from the
// first call, so ending twice is safe. Returns the number of promoted rows.
func (db *DB) EndSession(ctx context.Context, id, summary string) (int, error) {
	var promoted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		result, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET ended_at = COALESCE(ended_at, ?), summary = COALESCE(?, summary)
			WHERE id = ?
		`, now, nullStr(summary), id)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE memories SET tier = 'project', updated_at = ?
			WHERE tier = 'session' AND salience > ? AND is_deleted = 0
			  AND id IN (SELECT memory_id FROM session_memories WHERE session_id = ?)
		`, now, PromotionThreshold, id)
		if err != nil {
			return fmt.Errorf("promote memories: %w", err)
		}
		promoted, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("end session %s: %w", id, err)
	}
	return int(promoted), nil
}

// RecordUsage links an existing memory to a session.
func (db *DB) RecordUsage(ctx context.Context, sessionID, memoryID string, usage UsageType) error {
	if !usage.valid() {
		return fmt.Errorf("record usage: usage %q: %w", usage, ErrInvalidInput)
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := getMemory(ctx, tx, memoryID); err != nil {
			return err
		}
		return linkSession(ctx, tx, sessionID, memoryID, usage, time.Now().UnixMilli())
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func linkSession(ctx context.Context, q queryer, sessionID, memoryID string, usage UsageType, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO session_memories (session_id, memory_id, usage_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, memory_id, usage_type) DO NOTHING
	`, sessionID, memoryID, string(usage), now)
	if err != nil {
		return fmt.Errorf("link session memory: %w", err)
	}
	return nil
}

// CreatingSession returns the session a memory was created in, or nil if it
// was created outside any session.
func (db *DB) CreatingSession(ctx context.Context, memoryID string) (*Session, error) {
	var sessionID string
	err := db.QueryRowContext(ctx, `
		SELECT session_id FROM session_memories
		WHERE memory_id = ? AND usage_type = 'created'
		ORDER BY created_at LIMIT 1
	`, memoryID).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return db.GetSession(ctx, sessionID)
}

// GetRecentSessions returns the most recent sessions for a project.
func (db *DB) GetRecentSessions(ctx context.Context, projectID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE project_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var endedAt sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.StartedAt, &endedAt, &summary); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if endedAt.Valid {
			s.EndedAt = &endedAt.Int64
		}
		s.Summary = summary.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
