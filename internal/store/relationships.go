package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelationshipType is the label on a directed edge between memories.
type RelationshipType string

const (
	Supersedes    RelationshipType = "SUPERSEDES"
	Contradicts   RelationshipType = "CONTRADICTS"
	RelatedTo     RelationshipType = "RELATED_TO"
	BuildsOn      RelationshipType = "BUILDS_ON"
	Confirms      RelationshipType = "CONFIRMS"
	AppliesTo     RelationshipType = "APPLIES_TO"
	DependsOn     RelationshipType = "DEPENDS_ON"
	AlternativeTo RelationshipType = "ALTERNATIVE_TO"
)

// RelationshipTypes lists every valid relationship type.
var RelationshipTypes = []RelationshipType{
	Supersedes, Contradicts, RelatedTo, BuildsOn, Confirms, AppliesTo, DependsOn, AlternativeTo,
}

// Valid reports whether t is one of the known relationship types.
func (t RelationshipType) Valid() bool {
	for _, known := range RelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Originator records who asserted a relationship.
type Originator string

const (
	OriginUser   Originator = "user"
	OriginLLM    Originator = "llm"
	OriginSystem Originator = "system"
)

func (o Originator) valid() bool {
	return o == OriginUser || o == OriginLLM || o == OriginSystem
}

// Relationship is a directed, typed, temporally scoped edge. It is active
// while ValidUntil is nil.
type Relationship struct {
	ID         string           `json:"id"`
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       RelationshipType `json:"type"`
	Confidence float64          `json:"confidence"`
	Originator Originator       `json:"originator"`
	CreatedAt  int64            `json:"created_at"`
	ValidFrom  int64            `json:"valid_from"`
	ValidUntil *int64           `json:"valid_until,omitempty"`
}

// Active reports whether the edge is still valid.
func (r *Relationship) Active() bool {
	return r.ValidUntil == nil
}

// RelationshipInput describes a new edge. Confidence defaults to 1.0 and
// Originator to user.
type RelationshipInput struct {
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Type       RelationshipType `json:"type"`
	Originator Originator       `json:"originator,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// RelatedMemory is one endpoint reached from a memory through an edge.
// Outgoing is true when the queried memory is the edge's source.
type RelatedMemory struct {
	Memory       *Memory       `json:"memory"`
	Relationship *Relationship `json:"relationship"`
	Outgoing     bool          `json:"outgoing"`
}

const relationshipColumns = `r.id, r.source_id, r.target_id, r.relationship_type, r.confidence,
	r.originator, r.created_at, r.valid_from, r.valid_until`

// CreateRelationship inserts an active edge between two live memories.
func (db *DB) CreateRelationship(ctx context.Context, in RelationshipInput) (*Relationship, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("create relationship: %q: %w", in.Type, ErrInvalidRelationshipType)
	}
	if in.Originator == "" {
		in.Originator = OriginUser
	}
	if !in.Originator.valid() {
		return nil, fmt.Errorf("create relationship: originator %q: %w", in.Originator, ErrInvalidInput)
	}
	if in.SourceID == in.TargetID {
		return nil, fmt.Errorf("create relationship: self edge on %s: %w", in.SourceID, ErrInvalidInput)
	}
	confidence := 1.0
	if in.Confidence != nil {
		confidence = clamp(*in.Confidence, 0, 1)
	}

	var rel *Relationship
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{in.SourceID, in.TargetID} {
			if _, err := getMemory(ctx, tx, id); err != nil {
				return fmt.Errorf("memory %s: %w", id, err)
			}
		}
		var err error
		rel, err = insertRelationship(ctx, tx, in.SourceID, in.TargetID, in.Type, in.Originator, confidence, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create relationship: %w", err)
	}
	return rel, nil
}

func insertRelationship(ctx context.Context, q queryer, source, target string, typ RelationshipType, origin Originator, confidence float64, now int64) (*Relationship, error) {
	rel := &Relationship{
		ID:         uuid.NewString(),
		SourceID:   source,
		TargetID:   target,
		Type:       typ,
		Confidence: confidence,
		Originator: origin,
		CreatedAt:  now,
		ValidFrom:  now,
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO memory_relationships
			(id, source_id, target_id, relationship_type, confidence, originator, created_at, valid_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.SourceID, rel.TargetID, string(rel.Type), rel.Confidence, string(rel.Originator), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert relationship: %w", err)
	}
	return rel, nil
}

// GetRelationship returns an edge by id, active or not.
func (db *DB) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	row := db.QueryRowContext(ctx, `SELECT `+relationshipColumns+` FROM memory_relationships r WHERE r.id = ?`, id)
	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get relationship %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship %s: %w", id, err)
	}
	return rel, nil
}

// GetRelationships returns active edges touching a memory in either
// direction whose endpoints are both live, newest first.
func (db *DB) GetRelationships(ctx context.Context, memoryID string) ([]*Relationship, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+relationshipColumns+`
		FROM memory_relationships r
		JOIN memories s ON s.id = r.source_id AND s.is_deleted = 0
		JOIN memories t ON t.id = r.target_id AND t.is_deleted = 0
		WHERE (r.source_id = ? OR r.target_id = ?) AND r.valid_until IS NULL
		ORDER BY r.created_at DESC, r.rowid DESC
	`, memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// GetRelatedMemories resolves active edges to their live far endpoints,
// optionally filtered by type (empty means all types).
func (db *DB) GetRelatedMemories(ctx context.Context, memoryID string, typ RelationshipType) ([]RelatedMemory, error) {
	if typ != "" && !typ.Valid() {
		return nil, fmt.Errorf("get related memories: %q: %w", typ, ErrInvalidRelationshipType)
	}
	rels, err := db.GetRelationships(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	var related []RelatedMemory
	var ids []string
	for _, rel := range rels {
		if typ != "" && rel.Type != typ {
			continue
		}
		rm := RelatedMemory{Relationship: rel, Outgoing: rel.SourceID == memoryID}
		if rm.Outgoing {
			ids = append(ids, rel.TargetID)
		} else {
			ids = append(ids, rel.SourceID)
		}
		related = append(related, rm)
	}

	mems, err := db.GetMemories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get related memories: %w", err)
	}
	out := related[:0]
	for i, rm := range related {
		if m, ok := mems[ids[i]]; ok {
			rm.Memory = m
			out = append(out, rm)
		}
	}
	return out, nil
}

// InvalidateRelationship closes an edge's validity window. Invalidating an
// already inactive edge leaves its original cutoff untouched.
func (db *DB) InvalidateRelationship(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	result, err := db.ExecContext(ctx, `
		UPDATE memory_relationships SET valid_until = ? WHERE id = ? AND valid_until IS NULL
	`, now, id)
	if err != nil {
		return fmt.Errorf("invalidate relationship %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := db.GetRelationship(ctx, id); err != nil {
		return fmt.Errorf("invalidate relationship: %w", err)
	}
	return nil
}

// Supersede marks oldID as replaced by newID in a single transaction: the
// old memory's valid_until is set if still open, and an active SUPERSEDES
// edge new -> old is created unless one already exists. Either both writes
// land or neither does.
func (db *DB) Supersede(ctx context.Context, oldID, newID string) (*Relationship, error) {
	if oldID == newID {
		return nil, fmt.Errorf("supersede %s: memory cannot supersede itself: %w", oldID, ErrInvalidInput)
	}

	var rel *Relationship
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{oldID, newID} {
			if _, err := getMemory(ctx, tx, id); err != nil {
				return fmt.Errorf("memory %s: %w", id, err)
			}
		}

		now := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET valid_until = ?, updated_at = ?
			WHERE id = ? AND valid_until IS NULL
		`, now, now, oldID); err != nil {
			return fmt.Errorf("close validity: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+relationshipColumns+` FROM memory_relationships r
			WHERE r.source_id = ? AND r.target_id = ? AND r.relationship_type = 'SUPERSEDES'
			  AND r.valid_until IS NULL
			LIMIT 1
		`, newID, oldID)
		existing, err := scanRelationship(row)
		if err == nil {
			rel = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing edge: %w", err)
		}

		rel, err = insertRelationship(ctx, tx, newID, oldID, Supersedes, OriginSystem, 1.0, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("supersede %s with %s: %w", oldID, newID, err)
		}
		return nil, fmt.Errorf("supersede %s with %s: %w: %w", oldID, newID, ErrAtomicWriteFailed, err)
	}
	return rel, nil
}

// GetSupersedingMemory follows the most recent active SUPERSEDES edge that
// targets id. Returns nil when the memory was never superseded or when its
// successor has since been deleted.
func (db *DB) GetSupersedingMemory(ctx context.Context, id string) (*Memory, error) {
	var sourceID string
	err := db.QueryRowContext(ctx, `
		SELECT source_id FROM memory_relationships
		WHERE target_id = ? AND relationship_type = 'SUPERSEDES' AND valid_until IS NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, id).Scan(&sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get superseding memory: %w", err)
	}

	m, err := getMemory(ctx, db, sourceID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get superseding memory: %w", err)
	}
	return m, nil
}

func scanRelationship(row rowScanner) (*Relationship, error) {
	var r Relationship
	var typ, origin string
	var validUntil sql.NullInt64
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &typ, &r.Confidence,
		&origin, &r.CreatedAt, &r.ValidFrom, &validUntil); err != nil {
		return nil, err
	}
	r.Type = RelationshipType(typ)
	r.Originator = Originator(origin)
	if validUntil.Valid {
		r.ValidUntil = &validUntil.Int64
	}
	return &r, nil
}
