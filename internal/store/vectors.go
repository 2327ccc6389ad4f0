package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// EmbeddingModel declares an embedding space and its dimensionality.
type EmbeddingModel struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
	Active     bool   `json:"active"`
	CreatedAt  int64  `json:"created_at"`
}

// VectorRecord holds a memory's embedding under one model.
type VectorRecord struct {
	MemoryID   string
	ModelID    string
	Embedding  []float64
	Dimensions int
	CreatedAt  int64
}

// VectorMatch is a vector search hit with cosine similarity in [0, 1].
type VectorMatch struct {
	MemoryID   string
	Similarity float64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// RegisterModel upserts an embedding model. When active is set every other
// model is deactivated.
func (db *DB) RegisterModel(ctx context.Context, m EmbeddingModel) (*EmbeddingModel, error) {
	if m.ID == "" || m.Dimensions <= 0 {
		return nil, fmt.Errorf("register model: %w", ErrInvalidInput)
	}
	now := time.Now().UnixMilli()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx, `SELECT dimensions FROM embedding_models WHERE id = ?`, m.ID).Scan(&existing)
		switch {
		case err == nil && existing != m.Dimensions:
			return fmt.Errorf("model %s declared with %d dimensions, got %d: %w",
				m.ID, existing, m.Dimensions, ErrDimensionMismatch)
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return err
		}

		if m.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE embedding_models SET is_active = 0`); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO embedding_models (id, provider, dimensions, is_active, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET provider = excluded.provider, is_active = excluded.is_active
		`, m.ID, m.Provider, m.Dimensions, boolInt(m.Active), now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register model: %w", err)
	}
	return db.GetModel(ctx, m.ID)
}

// GetModel returns an embedding model by id.
func (db *DB) GetModel(ctx context.Context, id string) (*EmbeddingModel, error) {
	m, err := getModel(ctx, db, id)
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return m, nil
}

// ActiveModel returns the active embedding model, or nil if none is active.
func (db *DB) ActiveModel(ctx context.Context) (*EmbeddingModel, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM embedding_models WHERE is_active = 1 LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active model: %w", err)
	}
	return db.GetModel(ctx, id)
}

func getModel(ctx context.Context, q queryer, id string) (*EmbeddingModel, error) {
	var m EmbeddingModel
	var active int
	err := q.QueryRowContext(ctx, `
		SELECT id, provider, dimensions, is_active, created_at FROM embedding_models WHERE id = ?
	`, id).Scan(&m.ID, &m.Provider, &m.Dimensions, &active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Active = active != 0
	return &m, nil
}

// SaveVector stores or replaces a memory's embedding under a model and
// records the model on the memory. The vector length must equal the model's
// declared dimensions.
func (db *DB) SaveVector(ctx context.Context, memoryID, modelID string, embedding []float64) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		model, err := getModel(ctx, tx, modelID)
		if err != nil {
			return fmt.Errorf("model %s: %w", modelID, err)
		}
		if len(embedding) != model.Dimensions {
			return fmt.Errorf("model %s wants %d dimensions, got %d: %w",
				modelID, model.Dimensions, len(embedding), ErrDimensionMismatch)
		}
		if _, err := getMemory(ctx, tx, memoryID); err != nil {
			return fmt.Errorf("memory %s: %w", memoryID, err)
		}

		now := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_vectors (memory_id, model_id, vector, dimensions, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(memory_id, model_id) DO UPDATE SET
				vector = excluded.vector, dimensions = excluded.dimensions, created_at = excluded.created_at
		`, memoryID, modelID, encodeEmbedding(embedding), len(embedding), now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE memories SET embedding_model = ?, updated_at = ? WHERE id = ?
		`, modelID, now, memoryID)
		return err
	})
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns a memory's embedding under a model, or nil if missing.
func (db *DB) GetVector(ctx context.Context, memoryID, modelID string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRowContext(ctx, `
		SELECT memory_id, model_id, vector, dimensions, created_at
		FROM memory_vectors WHERE memory_id = ? AND model_id = ?
	`, memoryID, modelID).Scan(&v.MemoryID, &v.ModelID, &blob, &v.Dimensions, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// MissingVectors returns ids of live memories in a project without a
// vector under the model.
func (db *DB) MissingVectors(ctx context.Context, projectID, modelID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT m.id FROM memories m
		WHERE m.project_id = ? AND m.is_deleted = 0
		  AND NOT EXISTS (SELECT 1 FROM memory_vectors v WHERE v.memory_id = m.id AND v.model_id = ?)
		ORDER BY m.created_at LIMIT ?
	`, projectID, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("missing vectors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// VectorSearch ranks memories matching the filter by cosine similarity to
// query under one model. Stored vectors whose length disagrees with the
// model are skipped.
func (db *DB) VectorSearch(ctx context.Context, f SearchFilter, modelID string, query []float64, limit int) ([]VectorMatch, error) {
	model, err := db.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(query) != model.Dimensions {
		return nil, fmt.Errorf("vector search: query has %d dimensions, model %s wants %d: %w",
			len(query), modelID, model.Dimensions, ErrDimensionMismatch)
	}
	if limit <= 0 {
		limit = 50
	}

	where, args := f.where()
	args = append([]any{modelID, model.Dimensions}, args...)
	rows, err := db.QueryContext(ctx, `
		SELECT v.memory_id, v.vector
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE v.model_id = ? AND v.dimensions = ?`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vec := decodeEmbedding(blob)
		if len(vec) != model.Dimensions {
			continue
		}
		sim := CosineSimilarity(query, vec)
		if sim <= 0 {
			continue
		}
		matches = append(matches, VectorMatch{MemoryID: id, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
