package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
)

// Tier is the lifespan scope of a memory.
type Tier string

const (
	TierSession Tier = "session"
	TierProject Tier = "project"
)

const (
	SalienceFloor   = 0.05
	SalienceCeiling = 1.0

	DefaultImportance = 0.5

	// DuplicateReinforcement is applied when a capture repeats an existing memory.
	DuplicateReinforcement = 0.1
)

// Memory is the atomic unit of knowledge.
type Memory struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	Content        string        `json:"content"`
	Summary        string        `json:"summary,omitempty"`
	ContentHash    string        `json:"content_hash"`
	SimHash        uint64        `json:"simhash"`
	Sector         sector.Sector `json:"sector"`
	Tier           Tier          `json:"tier"`
	Importance     float64       `json:"importance"`
	Salience       float64       `json:"salience"`
	AccessCount    int           `json:"access_count"`
	CreatedAt      int64         `json:"created_at"`
	UpdatedAt      int64         `json:"updated_at"`
	LastAccessedAt int64         `json:"last_accessed_at"`
	ValidFrom      int64         `json:"valid_from"`
	ValidUntil     *int64        `json:"valid_until,omitempty"`
	IsDeleted      bool          `json:"is_deleted"`
	DeletedAt      *int64        `json:"deleted_at,omitempty"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	Tags           []string      `json:"tags"`
	Concepts       []string      `json:"concepts"`
	Files          []string      `json:"files"`
}

// IsSuperseded reports whether the memory's validity window has closed.
func (m *Memory) IsSuperseded() bool {
	return m.ValidUntil != nil
}

// MemoryInput is the caller-supplied part of a new memory.
type MemoryInput struct {
	Content    string        `json:"content"`
	Summary    string        `json:"summary,omitempty"`
	Sector     sector.Sector `json:"sector,omitempty"`
	Importance *float64      `json:"importance,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Concepts   []string      `json:"concepts,omitempty"`
	Files      []string      `json:"files,omitempty"`
}

// CreateResult is returned by CreateMemory. Duplicate is set when the input
// matched an existing memory, which is returned (reinforced) instead.
type CreateResult struct {
	Memory    *Memory `json:"memory"`
	Duplicate bool    `json:"duplicate"`
}

// ListOptions filters ListMemories.
type ListOptions struct {
	ProjectID         string
	Sector            sector.Sector
	Tier              Tier
	IncludeSuperseded bool
	Limit             int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return 50
	}
	return o.Limit
}

const memoryColumns = `id, project_id, content, summary, content_hash, simhash, sector, tier,
	importance, salience, access_count, created_at, updated_at, last_accessed_at,
	valid_from, valid_until, is_deleted, deleted_at, embedding_model, tags, concepts, files`

// CreateMemory fingerprints, classifies and persists a new memory. When
// sessionID is set the memory starts in the session tier and is linked to
// the session, which is created on first use.
func (db *DB) CreateMemory(ctx context.Context, in MemoryInput, projectID, sessionID string) (*CreateResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("create memory: empty content: %w", ErrInvalidInput)
	}
	if projectID == "" {
		return nil, fmt.Errorf("create memory: empty project id: %w", ErrInvalidInput)
	}
	sec := in.Sector
	if sec == "" {
		sec = sector.Classify(content)
	} else if !sec.Valid() {
		return nil, fmt.Errorf("create memory: sector %q: %w", sec, ErrInvalidInput)
	}
	importance := DefaultImportance
	if in.Importance != nil {
		importance = *in.Importance
		if importance < 0 || importance > 1 {
			return nil, fmt.Errorf("create memory: importance %v outside [0,1]: %w", importance, ErrInvalidInput)
		}
	}
	tier := TierProject
	if sessionID != "" {
		tier = TierSession
	}

	hash := ContentHash(content)
	simhash := SimHash(content)
	now := time.Now().UnixMilli()

	var result *CreateResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if sessionID != "" {
			if err := ensureSession(ctx, tx, sessionID, projectID, now); err != nil {
				return err
			}
		}

		dupID, err := db.findDuplicate(ctx, tx, projectID, hash, simhash)
		if err != nil {
			return err
		}
		if dupID != "" {
			if _, err := tx.ExecContext(ctx, reinforceSQL, DuplicateReinforcement, now, dupID); err != nil {
				return fmt.Errorf("reinforce duplicate: %w", err)
			}
			if sessionID != "" {
				if err := linkSession(ctx, tx, sessionID, dupID, UsageRecalled, now); err != nil {
					return err
				}
			}
			m, err := getMemory(ctx, tx, dupID)
			if err != nil {
				return err
			}
			result = &CreateResult{Memory: m, Duplicate: true}
			return nil
		}

		m := &Memory{
			ID:             uuid.NewString(),
			ProjectID:      projectID,
			Content:        content,
			Summary:        in.Summary,
			ContentHash:    hash,
			SimHash:        simhash,
			Sector:         sec,
			Tier:           tier,
			Importance:     importance,
			Salience:       SalienceCeiling,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: now,
			ValidFrom:      now,
			Tags:           nonNil(in.Tags),
			Concepts:       nonNil(in.Concepts),
			Files:          nonNil(in.Files),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (id, project_id, content, summary, content_hash, simhash, sector, tier,
				importance, salience, access_count, created_at, updated_at, last_accessed_at,
				valid_from, tags, concepts, files)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.ProjectID, m.Content, nullStr(m.Summary), m.ContentHash, int64(m.SimHash),
			string(m.Sector), string(m.Tier), m.Importance, m.Salience,
			now, now, now, now, encodeList(m.Tags), encodeList(m.Concepts), encodeList(m.Files))
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		if sessionID != "" {
			if err := linkSession(ctx, tx, sessionID, m.ID, UsageCreated, now); err != nil {
				return err
			}
		}
		result = &CreateResult{Memory: m}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	return result, nil
}

// findDuplicate returns the id of a live, unsuperseded memory in the
// project with the same content hash, or failing that the closest simhash
// within the configured distance.
func (db *DB) findDuplicate(ctx context.Context, q queryer, projectID, hash string, simhash uint64) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE project_id = ? AND content_hash = ? AND is_deleted = 0 AND valid_until IS NULL
		ORDER BY created_at LIMIT 1
	`, projectID, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find duplicate: %w", err)
	}
	if db.NearDuplicateDistance <= 0 || simhash == 0 {
		return "", nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, simhash FROM memories
		WHERE project_id = ? AND is_deleted = 0 AND valid_until IS NULL AND simhash != 0
	`, projectID)
	if err != nil {
		return "", fmt.Errorf("scan simhashes: %w", err)
	}
	defer rows.Close()

	best := ""
	bestDist := db.NearDuplicateDistance + 1
	for rows.Next() {
		var candID string
		var candHash int64
		if err := rows.Scan(&candID, &candHash); err != nil {
			return "", fmt.Errorf("scan simhash: %w", err)
		}
		if d := HammingDistance(simhash, uint64(candHash)); d < bestDist {
			best, bestDist = candID, d
		}
	}
	return best, rows.Err()
}

// GetMemory returns a live memory by id, or ErrNotFound if it is absent or
// soft-deleted.
func (db *DB) GetMemory(ctx context.Context, id string) (*Memory, error) {
	m, err := getMemory(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

func getMemory(ctx context.Context, q queryer, id string) (*Memory, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ? AND is_deleted = 0`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemories batch-loads live memories keyed by id. Missing or deleted ids
// are absent from the result.
func (db *DB) GetMemories(ctx context.Context, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders, args := inClause(ids)
	rows, err := db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE is_deleted = 0 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	for _, m := range mems {
		out[m.ID] = m
	}
	return out, nil
}

// ListMemories returns live memories for a project, newest first.
func (db *DB) ListMemories(ctx context.Context, opts ListOptions) ([]*Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE project_id = ? AND is_deleted = 0`
	args := []any{opts.ProjectID}
	if opts.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, string(opts.Sector))
	}
	if opts.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(opts.Tier))
	}
	if !opts.IncludeSuperseded {
		query += ` AND valid_until IS NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, opts.limit())

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return mems, nil
}

const reinforceSQL = `
	UPDATE memories
	SET salience = MIN(1.0, salience + ? * (1.0 - salience)), updated_at = ?
	WHERE id = ? AND is_deleted = 0`

const deemphasizeSQL = `
	UPDATE memories
	SET salience = MAX(0.05, salience - ? * (salience - 0.05)), updated_at = ?
	WHERE id = ? AND is_deleted = 0`

// ReinforceMemory raises salience with diminishing returns:
// s' = s + amount*(1-s), capped at 1.0.
func (db *DB) ReinforceMemory(ctx context.Context, id string, amount float64) (*Memory, error) {
	return db.adjustSalience(ctx, "reinforce", reinforceSQL, id, amount)
}

// DeemphasizeMemory lowers salience toward the floor in proportion to its
// distance above the floor: s' = s - amount*(s-0.05).
func (db *DB) DeemphasizeMemory(ctx context.Context, id string, amount float64) (*Memory, error) {
	return db.adjustSalience(ctx, "deemphasize", deemphasizeSQL, id, amount)
}

func (db *DB) adjustSalience(ctx context.Context, op, query, id string, amount float64) (*Memory, error) {
	amount = clamp(amount, 0, 1)
	result, err := db.ExecContext(ctx, query, amount, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("%s memory %s: %w", op, id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s memory %s: %w", op, id, ErrNotFound)
	}
	return db.GetMemory(ctx, id)
}

// TouchMemories records a retrieval: bumps last_accessed_at and access_count.
func (db *DB) TouchMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	placeholders, args := inClause(ids)
	_, err := db.ExecContext(ctx, `
		UPDATE memories
		SET last_accessed_at = ?, access_count = access_count + 1, updated_at = ?
		WHERE is_deleted = 0 AND id IN (`+placeholders+`)
	`, append([]any{now, now}, args...)...)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// DeleteMemory soft-deletes a memory, or removes it and everything hanging
// off it when hard is set. Soft-deleting twice is not an error.
func (db *DB) DeleteMemory(ctx context.Context, id string, hard bool) error {
	if hard {
		return db.hardDelete(ctx, id)
	}

	now := time.Now().UnixMilli()
	result, err := db.ExecContext(ctx, `
		UPDATE memories SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("soft delete memory %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("soft delete memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("soft delete memory %s: %w", id, err)
	}
	return nil
}

func (db *DB) hardDelete(ctx context.Context, id string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_relationships WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
			return err
		}
		for _, table := range []string{"memory_vectors", "session_memories"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE memory_id = ?`, id); err != nil {
				return err
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hard delete memory %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m                       Memory
		summary, embeddingModel sql.NullString
		validUntil, deletedAt   sql.NullInt64
		simhash                 int64
		sec, tier               string
		isDeleted               int
		tags, concepts, files   string
	)
	err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &summary, &m.ContentHash, &simhash, &sec, &tier,
		&m.Importance, &m.Salience, &m.AccessCount, &m.CreatedAt, &m.UpdatedAt, &m.LastAccessedAt,
		&m.ValidFrom, &validUntil, &isDeleted, &deletedAt, &embeddingModel, &tags, &concepts, &files)
	if err != nil {
		return nil, err
	}
	m.Summary = summary.String
	m.EmbeddingModel = embeddingModel.String
	m.SimHash = uint64(simhash)
	m.Sector = sector.Sector(sec)
	m.Tier = Tier(tier)
	m.IsDeleted = isDeleted != 0
	if validUntil.Valid {
		m.ValidUntil = &validUntil.Int64
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Int64
	}
	m.Tags = decodeList(tags)
	m.Concepts = decodeList(concepts)
	m.Files = decodeList(files)
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	defer rows.Close()
	var mems []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		mems = append(mems, m)
	}
	return mems, rows.Err()
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(s string) []string {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil || items == nil {
		return []string{}
	}
	return items
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
