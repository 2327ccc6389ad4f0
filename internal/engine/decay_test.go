package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

func memoryAt(sec sector.Sector, salience, importance float64, lastAccess time.Time) *store.Memory {
	return &store.Memory{
		Sector:         sec,
		Salience:       salience,
		Importance:     importance,
		LastAccessedAt: lastAccess.UnixMilli(),
		CreatedAt:      lastAccess.UnixMilli(),
	}
}

func TestDecaySalienceMonotonic(t *testing.T) {
	start := time.Now()
	m := memoryAt(sector.Semantic, 1, 0.5, start)

	prev := DecaySalience(m, start)
	assert.InDelta(t, 1.0, prev, 1e-9)
	for days := 1; days <= 400; days += 7 {
		s := DecaySalience(m, start.Add(time.Duration(days)*day))
		assert.LessOrEqual(t, s, prev, "day %d", days)
		assert.GreaterOrEqual(t, s, store.SalienceFloor)
		prev = s
	}
}

func TestDecaySalienceFormula(t *testing.T) {
	start := time.Now()
	m := memoryAt(sector.Episodic, 0.8, 0.5, start)
	got := DecaySalience(m, start.Add(10*day))
	// 0.8 * exp(-(0.03 / 0.6) * 10)
	assert.InDelta(t, 0.48522, got, 1e-4)
}

func TestDecaySectorRates(t *testing.T) {
	start := time.Now()
	later := start.Add(60 * day)
	emotional := DecaySalience(memoryAt(sector.Emotional, 1, 0.5, start), later)
	episodic := DecaySalience(memoryAt(sector.Episodic, 1, 0.5, start), later)
	assert.Greater(t, emotional, episodic)

	important := DecaySalience(memoryAt(sector.Episodic, 1, 0.9, start), later)
	assert.Greater(t, important, episodic, "importance slows decay")
}

func TestDecayFloorAndProtection(t *testing.T) {
	start := time.Now()
	m := memoryAt(sector.Episodic, 1, 0, start)
	assert.Equal(t, store.SalienceFloor, DecaySalience(m, start.Add(10000*day)))

	assert.Equal(t, 0.0, AccessProtection(0))
	assert.InDelta(t, 0.02*0.6931, AccessProtection(1), 1e-4)
	assert.Equal(t, 0.1, AccessProtection(10000))

	m.AccessCount = 10000
	assert.InDelta(t, 0.1, DecaySalience(m, start.Add(10000*day)), 1e-9)
}

func TestEstimateTimeToDecay(t *testing.T) {
	start := time.Now()
	m := memoryAt(sector.Semantic, 0.3, 0.5, start)
	assert.Equal(t, time.Duration(0), EstimateTimeToDecay(m, 0.5))
	assert.Equal(t, Forever, EstimateTimeToDecay(m, store.SalienceFloor))

	m.AccessCount = 10000
	assert.Equal(t, Forever, EstimateTimeToDecay(m, 0.1))

	m = memoryAt(sector.Semantic, 0.9, 0.5, start)
	d := EstimateTimeToDecay(m, 0.4)
	require.Greater(t, d, time.Duration(0))
	assert.InDelta(t, 0.4, DecaySalience(m, start.Add(d)), 1e-6)
}

func TestRunOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	var ids []string
	var firstAccess int64
	for _, c := range []string{"Decay candidate one", "Decay candidate two", "Decay candidate three"} {
		res, err := db.CreateMemory(ctx, store.MemoryInput{Content: c, Sector: sector.Episodic}, "proj", "")
		require.NoError(t, err)
		ids = append(ids, res.Memory.ID)
		if firstAccess == 0 {
			firstAccess = res.Memory.LastAccessedAt
		}
	}
	_, err := db.Exec(`UPDATE memories SET salience = 0.05 WHERE id = ?`, ids[2])
	require.NoError(t, err)

	d := NewDecayEngine(db, nil, 0, 0)
	d.Now = func() time.Time { return time.UnixMilli(firstAccess) }

	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecayResult{Processed: 2, Decayed: 0}, res, "no time has passed")

	d.Now = func() time.Time { return time.Now().Add(30 * day) }
	res, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecayResult{Processed: 2, Decayed: 2}, res)

	mems, err := db.GetMemories(ctx, ids)
	require.NoError(t, err)
	assert.Less(t, mems[ids[0]].Salience, 1.0)
	assert.Less(t, mems[ids[1]].Salience, 1.0)
	assert.Equal(t, store.SalienceFloor, mems[ids[2]].Salience)
}

func TestRunOnceCompounds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	res, err := db.CreateMemory(ctx, store.MemoryInput{Content: "Compounding decay note"}, "proj", "")
	require.NoError(t, err)
	at := time.UnixMilli(res.Memory.LastAccessedAt).Add(10 * day)

	d := NewDecayEngine(db, nil, 0, 0)
	d.Now = func() time.Time { return at }

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	first, err := db.GetMemory(ctx, res.Memory.ID)
	require.NoError(t, err)

	// Same clock, second run: the factor applies again to the stored value.
	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	second, err := db.GetMemory(ctx, res.Memory.ID)
	require.NoError(t, err)

	assert.Less(t, second.Salience, first.Salience)
	assert.InDelta(t, first.Salience*first.Salience, second.Salience, 1e-6)
}

func TestRunOnceBatches(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, c := range []string{"Batch memory alpha", "Batch memory beta", "Batch memory gamma"} {
		_, err := db.CreateMemory(ctx, store.MemoryInput{Content: c}, "proj", "")
		require.NoError(t, err)
	}

	d := NewDecayEngine(db, nil, 0, 2)
	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
}

func TestDecayStartStop(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	res, err := db.CreateMemory(ctx, store.MemoryInput{Content: "Timer driven decay"}, "proj", "")
	require.NoError(t, err)

	d := NewDecayEngine(db, nil, time.Hour, 0)
	d.Now = func() time.Time { return time.Now().Add(90 * day) }

	assert.False(t, d.Running())
	d.Start()
	d.Start()
	assert.True(t, d.Running())
	d.Stop()
	d.Stop()
	assert.False(t, d.Running())

	// The first batch runs on Start and finishes before Stop returns.
	got, err := db.GetMemory(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Less(t, got.Salience, 1.0)
}

// syncBuffer is a bytes.Buffer safe for a logger writing from the decay
// goroutine while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDecayTickLogsFailure(t *testing.T) {
	db := testDB(t)
	var logs syncBuffer
	d := NewDecayEngine(db, slog.New(slog.NewTextHandler(&logs, nil)), time.Hour, 0)
	require.NoError(t, db.Close())

	_, err := d.RunOnce(context.Background())
	require.Error(t, err)

	assert.NotPanics(t, func() { d.tick(context.Background()) })
	assert.Contains(t, logs.String(), "decay run failed")
}

func TestDecayTimerSurvivesFailures(t *testing.T) {
	db := testDB(t)
	var logs syncBuffer
	d := NewDecayEngine(db, slog.New(slog.NewTextHandler(&logs, nil)), 5*time.Millisecond, 0)
	require.NoError(t, db.Close())

	d.Start()
	t.Cleanup(d.Stop)

	// Each failed tick is logged and the next tick tries again.
	require.Eventually(t, func() bool {
		return strings.Count(logs.String(), "decay run failed") >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, d.Running())

	d.Stop()
	assert.False(t, d.Running())
}
