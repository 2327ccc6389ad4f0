package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestModel(t *testing.T, db *DB, dims int) {
	t.Helper()
	_, err := db.RegisterModel(context.Background(), EmbeddingModel{ID: "test-model", Provider: "test", Dimensions: dims, Active: true})
	require.NoError(t, err)
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float64{0.5, -1.25, math.Pi}
	assert.Equal(t, vec, decodeEmbedding(encodeEmbedding(vec)))
}

func TestRegisterModel(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.RegisterModel(ctx, EmbeddingModel{ID: "a", Provider: "openai", Dimensions: 3, Active: true})
	require.NoError(t, err)
	_, err = db.RegisterModel(ctx, EmbeddingModel{ID: "b", Provider: "ollama", Dimensions: 4, Active: true})
	require.NoError(t, err)

	active, err := db.ActiveModel(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "b", active.ID)

	a, err := db.GetModel(ctx, "a")
	require.NoError(t, err)
	assert.False(t, a.Active)

	_, err = db.RegisterModel(ctx, EmbeddingModel{ID: "a", Provider: "openai", Dimensions: 5})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = db.RegisterModel(ctx, EmbeddingModel{ID: "c"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSaveVectorDimensionCheck(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	registerTestModel(t, db, 3)
	m := addMemory(t, db, "proj", "vectorized")

	err := db.SaveVector(ctx, m.ID, "test-model", []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, db.SaveVector(ctx, m.ID, "test-model", []float64{1, 2, 3}))
	require.NoError(t, db.SaveVector(ctx, m.ID, "test-model", []float64{3, 2, 1}), "upsert")

	v, err := db.GetVector(ctx, m.ID, "test-model")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, []float64{3, 2, 1}, v.Embedding)

	got, err := db.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "test-model", got.EmbeddingModel)

	assert.ErrorIs(t, db.SaveVector(ctx, "missing", "test-model", []float64{1, 2, 3}), ErrNotFound)
	assert.ErrorIs(t, db.SaveVector(ctx, m.ID, "no-model", []float64{1, 2, 3}), ErrNotFound)
}

func TestVectorSearch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	registerTestModel(t, db, 2)

	near := addMemory(t, db, "proj", "near")
	far := addMemory(t, db, "proj", "far")
	gone := addMemory(t, db, "proj", "gone")
	elsewhere := addMemory(t, db, "other", "elsewhere")

	require.NoError(t, db.SaveVector(ctx, near.ID, "test-model", []float64{1, 0.1}))
	require.NoError(t, db.SaveVector(ctx, far.ID, "test-model", []float64{0.5, 1}))
	require.NoError(t, db.SaveVector(ctx, gone.ID, "test-model", []float64{1, 0}))
	require.NoError(t, db.SaveVector(ctx, elsewhere.ID, "test-model", []float64{1, 0}))
	require.NoError(t, db.DeleteMemory(ctx, gone.ID, false))

	matches, err := db.VectorSearch(ctx, SearchFilter{ProjectID: "proj"}, "test-model", []float64{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, near.ID, matches[0].MemoryID)
	assert.Equal(t, far.ID, matches[1].MemoryID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)

	_, err = db.VectorSearch(ctx, SearchFilter{ProjectID: "proj"}, "test-model", []float64{1, 0, 0}, 10)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestVectorSearchFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	registerTestModel(t, db, 2)

	old := addMemory(t, db, "proj", "old")
	repl := addMemory(t, db, "proj", "replacement")
	_, err := db.Supersede(ctx, old.ID, repl.ID)
	require.NoError(t, err)
	require.NoError(t, db.SaveVector(ctx, old.ID, "test-model", []float64{1, 0}))
	require.NoError(t, db.SaveVector(ctx, repl.ID, "test-model", []float64{1, 0.5}))

	matches, err := db.VectorSearch(ctx, SearchFilter{ProjectID: "proj"}, "test-model", []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, repl.ID, matches[0].MemoryID)

	matches, err = db.VectorSearch(ctx, SearchFilter{ProjectID: "proj", IncludeSuperseded: true}, "test-model", []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, old.ID, matches[0].MemoryID)
}

func TestMissingVectors(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	registerTestModel(t, db, 2)
	a := addMemory(t, db, "proj", "has vector")
	b := addMemory(t, db, "proj", "needs vector")
	require.NoError(t, db.SaveVector(ctx, a.ID, "test-model", []float64{1, 0}))

	ids, err := db.MissingVectors(ctx, "proj", "test-model", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}
