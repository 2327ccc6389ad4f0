package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
)

func TestCreateMemoryDefaults(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	res, err := db.CreateMemory(ctx, MemoryInput{
		Content: "User asked about a file",
		Tags:    []string{"io"},
	}, "proj", "")
	require.NoError(t, err)
	m := res.Memory

	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, sector.Episodic, m.Sector)
	assert.Equal(t, TierProject, m.Tier)
	assert.Equal(t, DefaultImportance, m.Importance)
	assert.Equal(t, 1.0, m.Salience)
	assert.Equal(t, 0, m.AccessCount)
	assert.Nil(t, m.ValidUntil)
	assert.Equal(t, m.CreatedAt, m.LastAccessedAt)
	assert.Equal(t, ContentHash("user asked  about a FILE"), m.ContentHash)

	got, err := db.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"io"}, got.Tags)
	assert.Equal(t, []string{}, got.Concepts)
	assert.Equal(t, m.SimHash, got.SimHash)
}

func TestCreateMemoryExplicitSectorAndImportance(t *testing.T) {
	db := testDB(t)
	imp := 0.9
	res, err := db.CreateMemory(context.Background(), MemoryInput{
		Content:    "User asked about a file",
		Sector:     sector.Reflective,
		Importance: &imp,
	}, "proj", "")
	require.NoError(t, err)
	assert.Equal(t, sector.Reflective, res.Memory.Sector)
	assert.Equal(t, 0.9, res.Memory.Importance)
}

func TestCreateMemoryValidation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	bad := 1.5

	inputs := []MemoryInput{
		{Content: "   "},
		{Content: "x", Sector: "narrative"},
		{Content: "x", Importance: &bad},
	}
	for _, in := range inputs {
		_, err := db.CreateMemory(ctx, in, "proj", "")
		assert.ErrorIs(t, err, ErrInvalidInput, "input %+v", in)
	}
	_, err := db.CreateMemory(ctx, MemoryInput{Content: "x"}, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateMemoryInSession(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	res, err := db.CreateMemory(ctx, MemoryInput{Content: "the build uses make"}, "proj", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, TierSession, res.Memory.Tier)

	s, err := db.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "proj", s.ProjectID)

	var usage string
	err = db.QueryRow(`SELECT usage_type FROM session_memories WHERE session_id = ? AND memory_id = ?`,
		"sess-1", res.Memory.ID).Scan(&usage)
	require.NoError(t, err)
	assert.Equal(t, "created", usage)
}

func TestCreateMemoryExactDuplicate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := addMemory(t, db, "proj", "Tests run with go test ./...")
	setSalience(t, db, first.ID, 0.5)

	res, err := db.CreateMemory(ctx, MemoryInput{Content: "tests run with   GO TEST ./..."}, "proj", "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, first.ID, res.Memory.ID)
	assert.InDelta(t, 0.55, res.Memory.Salience, 1e-9)

	// Other projects are independent.
	other, err := db.CreateMemory(ctx, MemoryInput{Content: "Tests run with go test ./..."}, "other", "")
	require.NoError(t, err)
	assert.False(t, other.Duplicate)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestCreateMemoryDuplicateOfSuperseded(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := addMemory(t, db, "proj", "Builds use Go 1.22")
	repl := addMemory(t, db, "proj", "Builds use Go 1.24")
	_, err := db.Supersede(ctx, old.ID, repl.ID)
	require.NoError(t, err)

	// A superseded memory is not a duplicate target; the capture is new.
	res, err := db.CreateMemory(ctx, MemoryInput{Content: "Builds use Go 1.22"}, "proj", "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotEqual(t, old.ID, res.Memory.ID)
	assert.False(t, res.Memory.IsSuperseded())

	got, err := db.GetMemory(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSuperseded())
}

func TestCreateMemoryNearDuplicate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := "the deploy pipeline pushes images to the staging registry before promoting them to production after the smoke tests pass"
	near := "the deploy pipeline pushes images to the staging registry before promoting them to production after all smoke tests pass"

	addMemory(t, db, "proj", base)
	dist := HammingDistance(SimHash(base), SimHash(near))

	// Disabled by default.
	res, err := db.CreateMemory(ctx, MemoryInput{Content: near}, "proj", "")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NoError(t, db.DeleteMemory(ctx, res.Memory.ID, true))

	db.NearDuplicateDistance = dist + 1
	res, err = db.CreateMemory(ctx, MemoryInput{Content: near}, "proj", "")
	require.NoError(t, err)
	assert.True(t, res.Duplicate, "distance %d within threshold", dist)
}

func TestGetMemoryNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetMemory(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReinforceDiminishingReturns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := addMemory(t, db, "proj", "cache lives in redis")
	setSalience(t, db, m.ID, 0.2)

	prev := 0.2
	prevGain := 1.0
	for i := 0; i < 40; i++ {
		got, err := db.ReinforceMemory(ctx, m.ID, 0.3)
		require.NoError(t, err)
		gain := got.Salience - prev
		assert.LessOrEqual(t, got.Salience, 1.0)
		assert.GreaterOrEqual(t, gain, 0.0)
		assert.LessOrEqual(t, gain, prevGain+1e-12, "iteration %d", i)
		prev, prevGain = got.Salience, gain
	}
	assert.InDelta(t, 1.0, prev, 1e-3)
}

func TestReinforceFormula(t *testing.T) {
	db := testDB(t)
	m := addMemory(t, db, "proj", "cache lives in redis")
	setSalience(t, db, m.ID, 0.4)

	got, err := db.ReinforceMemory(context.Background(), m.ID, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Salience, 1e-9)
	assert.GreaterOrEqual(t, got.UpdatedAt, m.UpdatedAt)
}

func TestDeemphasizeFloor(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := addMemory(t, db, "proj", "old flaky test list")

	prev := 1.0
	for i := 0; i < 30; i++ {
		got, err := db.DeemphasizeMemory(ctx, m.ID, 0.5)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Salience, SalienceFloor)
		if prev > SalienceFloor+1e-9 {
			assert.Less(t, got.Salience, prev, "iteration %d", i)
		}
		prev = got.Salience
	}

	got, err := db.DeemphasizeMemory(ctx, m.ID, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, SalienceFloor, got.Salience, 1e-9)
}

func TestSalienceMutationNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.ReinforceMemory(ctx, "nope", 0.1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.DeemphasizeMemory(ctx, "nope", 0.1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := addMemory(t, db, "proj", "logs go to stderr")
	_, err := db.Exec(`UPDATE memories SET last_accessed_at = 1 WHERE id = ?`, m.ID)
	require.NoError(t, err)

	require.NoError(t, db.TouchMemories(ctx, []string{m.ID}))
	require.NoError(t, db.TouchMemories(ctx, []string{m.ID}))

	got, err := db.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	assert.Greater(t, got.LastAccessedAt, int64(1))
}

func TestSoftDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := addMemory(t, db, "proj", "temporary note")

	require.NoError(t, db.DeleteMemory(ctx, m.ID, false))
	require.NoError(t, db.DeleteMemory(ctx, m.ID, false), "second soft delete")

	_, err := db.GetMemory(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var deleted int
	var deletedAt *int64
	require.NoError(t, db.QueryRow(`SELECT is_deleted, deleted_at FROM memories WHERE id = ?`, m.ID).
		Scan(&deleted, &deletedAt))
	assert.Equal(t, 1, deleted)
	assert.NotNil(t, deletedAt)

	list, err := db.ListMemories(ctx, ListOptions{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, db.DeleteMemory(ctx, "missing", false), ErrNotFound)
}

func TestHardDeleteCascades(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := addMemory(t, db, "proj", "alpha")
	b := addMemory(t, db, "proj", "beta")

	_, err := db.CreateRelationship(ctx, RelationshipInput{SourceID: a.ID, TargetID: b.ID, Type: RelatedTo})
	require.NoError(t, err)
	_, err = db.RegisterModel(ctx, EmbeddingModel{ID: "m", Provider: "test", Dimensions: 2, Active: true})
	require.NoError(t, err)
	require.NoError(t, db.SaveVector(ctx, a.ID, "m", []float64{1, 0}))
	require.NoError(t, db.RecordUsage(ctx, mustSession(t, db, "s", "proj"), a.ID, UsageRecalled))

	require.NoError(t, db.DeleteMemory(ctx, a.ID, true))

	for _, q := range []string{
		`SELECT COUNT(*) FROM memories WHERE id = ?`,
		`SELECT COUNT(*) FROM memory_relationships WHERE source_id = ?`,
		`SELECT COUNT(*) FROM memory_vectors WHERE memory_id = ?`,
		`SELECT COUNT(*) FROM session_memories WHERE memory_id = ?`,
	} {
		var n int
		require.NoError(t, db.QueryRow(q, a.ID).Scan(&n))
		assert.Zero(t, n, q)
	}

	assert.ErrorIs(t, db.DeleteMemory(ctx, a.ID, true), ErrNotFound)
}

func TestListMemoriesFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	addMemory(t, db, "proj", "User asked about a file")
	sem := addMemory(t, db, "proj", "The parser function is defined in parse.go")
	_, err := db.CreateMemory(ctx, MemoryInput{Content: "the retry helper is defined in util"}, "proj", "sess")
	require.NoError(t, err)

	list, err := db.ListMemories(ctx, ListOptions{ProjectID: "proj", Sector: sector.Semantic, Tier: TierProject})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sem.ID, list[0].ID)

	list, err = db.ListMemories(ctx, ListOptions{ProjectID: "proj", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func mustSession(t *testing.T, db *DB, id, project string) string {
	t.Helper()
	s, err := db.InitSession(context.Background(), id, project)
	require.NoError(t, err)
	return s.ID
}
