package store

import (
	"context"
	"fmt"
	"slices"
)

// MemoriesAround returns up to before/after live memories adjacent to the
// anchor in creation order. With a session id the window is restricted to
// memories created in that session, otherwise to the anchor's project.
func (db *DB) MemoriesAround(ctx context.Context, anchor *Memory, sessionID string, before, after int) ([]*Memory, []*Memory, error) {
	scope := `project_id = ?`
	scopeArg := anchor.ProjectID
	if sessionID != "" {
		scope = `id IN (SELECT memory_id FROM session_memories WHERE session_id = ? AND usage_type = 'created')`
		scopeArg = sessionID
	}
	anchorRowid := `(SELECT rowid FROM memories WHERE id = ?)`

	var prev, next []*Memory
	if before > 0 {
		rows, err := db.QueryContext(ctx, `
			SELECT `+memoryColumns+` FROM memories
			WHERE is_deleted = 0 AND `+scope+`
			  AND (created_at < ? OR (created_at = ? AND rowid < `+anchorRowid+`))
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		`, scopeArg, anchor.CreatedAt, anchor.CreatedAt, anchor.ID, before)
		if err != nil {
			return nil, nil, fmt.Errorf("timeline before: %w", err)
		}
		if prev, err = scanMemories(rows); err != nil {
			return nil, nil, fmt.Errorf("timeline before: %w", err)
		}
		slices.Reverse(prev)
	}
	if after > 0 {
		rows, err := db.QueryContext(ctx, `
			SELECT `+memoryColumns+` FROM memories
			WHERE is_deleted = 0 AND `+scope+`
			  AND (created_at > ? OR (created_at = ? AND rowid > `+anchorRowid+`))
			ORDER BY created_at ASC, rowid ASC LIMIT ?
		`, scopeArg, anchor.CreatedAt, anchor.CreatedAt, anchor.ID, after)
		if err != nil {
			return nil, nil, fmt.Errorf("timeline after: %w", err)
		}
		if next, err = scanMemories(rows); err != nil {
			return nil, nil, fmt.Errorf("timeline after: %w", err)
		}
	}
	return prev, next, nil
}
