package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DecayCandidates returns up to limit live memories above the salience
// floor, least recently updated first.
func (db *DB) DecayCandidates(ctx context.Context, limit int) ([]*Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE is_deleted = 0 AND salience > ?
		ORDER BY updated_at ASC, rowid ASC
		LIMIT ?
	`, SalienceFloor, limit)
	if err != nil {
		return nil, fmt.Errorf("decay candidates: %w", err)
	}
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("decay candidates: %w", err)
	}
	return mems, nil
}

// ApplySalience writes salience values for a processed batch in one
// transaction. Rows are written even when unchanged so updated_at moves them
// to the back of the next DecayCandidates batch. Deleted rows are skipped.
// Returns the number of rows written.
func (db *DB) ApplySalience(ctx context.Context, updates map[string]float64) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	var updated int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE memories SET salience = ?, updated_at = ?
			WHERE id = ? AND is_deleted = 0
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UnixMilli()
		for id, s := range updates {
			result, err := stmt.ExecContext(ctx, clamp(s, SalienceFloor, SalienceCeiling), now, id)
			if err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
			n, _ := result.RowsAffected()
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply salience: %w", err)
	}
	return int(updated), nil
}
