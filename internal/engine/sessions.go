package engine

import (
	"context"
	"log/slog"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// SessionManager tracks session lifecycle and memory usage within sessions.
type SessionManager struct {
	db     *store.DB
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(db *store.DB, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{db: db, logger: logger}
}

// GetOrCreateSession returns the session, creating it under projectID on
// first use.
func (s *SessionManager) GetOrCreateSession(ctx context.Context, id, projectID string) (*store.Session, error) {
	return s.db.InitSession(ctx, id, projectID)
}

// EndSession closes a session and promotes its high-salience memories to
// the project tier. Safe to call more than once.
func (s *SessionManager) EndSession(ctx context.Context, id, summary string) (int, error) {
	promoted, err := s.db.EndSession(ctx, id, summary)
	if err != nil {
		return 0, err
	}
	s.logger.Info("session ended", "session", id, "promoted", promoted)
	return promoted, nil
}

// RecordUsage notes that a memory was used in a session.
func (s *SessionManager) RecordUsage(ctx context.Context, sessionID, memoryID string, usage store.UsageType) error {
	return s.db.RecordUsage(ctx, sessionID, memoryID, usage)
}
