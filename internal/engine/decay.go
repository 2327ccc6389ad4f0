package engine

// Salience decay:
//   - Exponential decay on time since last access, at a per-sector rate
//     divided by (importance + 0.1), so important memories fade slower.
//   - Access protection: min(0.1, ln(1 + accessCount) * 0.02) is added back.
//   - Clamped to [0.05, 1.0]; memories are never fully forgotten.
//   - Decay only ever lowers salience. Reinforcement is the only way up.
//   - Runs in batches of the least recently updated memories, on startup
//     and then on a fixed interval via DecayEngine.Start.

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// SectorDecayRate is the base daily decay rate per sector.
var SectorDecayRate = map[sector.Sector]float64{
	sector.Emotional:  0.005,
	sector.Semantic:   0.01,
	sector.Reflective: 0.015,
	sector.Procedural: 0.02,
	sector.Episodic:   0.03,
}

const (
	DefaultDecayInterval  = time.Hour
	DefaultDecayBatchSize = 100

	maxAccessProtection = 0.1
	day                 = 24 * time.Hour
)

// Forever is returned by EstimateTimeToDecay when a target is never reached.
const Forever = time.Duration(math.MaxInt64)

func effectiveRate(m *store.Memory) float64 {
	rate, ok := SectorDecayRate[m.Sector]
	if !ok {
		rate = SectorDecayRate[sector.Semantic]
	}
	return rate / (m.Importance + 0.1)
}

// AccessProtection is the bonus frequent access adds back after decay.
func AccessProtection(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	return math.Min(maxAccessProtection, math.Log1p(float64(accessCount))*0.02)
}

// DecaySalience computes a memory's salience at now from its last access.
func DecaySalience(m *store.Memory, now time.Time) float64 {
	days := now.Sub(time.UnixMilli(m.LastAccessedAt)).Hours() / 24
	if days < 0 {
		days = 0
	}
	decayed := m.Salience * math.Exp(-effectiveRate(m)*days)
	return clamp(decayed+AccessProtection(m.AccessCount), store.SalienceFloor, store.SalienceCeiling)
}

// EstimateTimeToDecay returns how long, measured from the last access, the
// memory's current salience takes to fall to target. It is 0 when salience
// is already below target and Forever when the floor or access protection
// alone keeps salience at or above target.
func EstimateTimeToDecay(m *store.Memory, target float64) time.Duration {
	if m.Salience < target {
		return 0
	}
	protection := AccessProtection(m.AccessCount)
	if target <= store.SalienceFloor || target <= protection {
		return Forever
	}
	days := math.Log(m.Salience/(target-protection)) / effectiveRate(m)
	if days <= 0 {
		return 0
	}
	d := days * float64(day)
	if d >= float64(Forever) {
		return Forever
	}
	return time.Duration(d)
}

// DecayEngine periodically recomputes salience for active memories. Each
// batch decays the stored salience, so runs compound over time.
type DecayEngine struct {
	db        *store.DB
	logger    *slog.Logger
	ins       *instruments
	interval  time.Duration
	batchSize int

	// Now is the clock used for decay; tests may replace it.
	Now func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running sync.WaitGroup
}

// NewDecayEngine creates a DecayEngine. Zero interval or batch size select
// the defaults (hourly, 100).
func NewDecayEngine(db *store.DB, logger *slog.Logger, interval time.Duration, batchSize int) *DecayEngine {
	if interval <= 0 {
		interval = DefaultDecayInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultDecayBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DecayEngine{
		db:        db,
		logger:    logger,
		ins:       newInstruments(nil),
		interval:  interval,
		batchSize: batchSize,
		Now:       time.Now,
	}
}

// DecayResult summarizes one decay batch.
type DecayResult struct {
	Processed int `json:"processed"`
	Decayed   int `json:"decayed"`
}

// RunOnce processes a single batch and returns how many memories were
// examined and how many had their salience lowered.
func (d *DecayEngine) RunOnce(ctx context.Context) (DecayResult, error) {
	batch, err := d.db.DecayCandidates(ctx, d.batchSize)
	if err != nil {
		return DecayResult{}, err
	}

	now := d.Now()
	updates := make(map[string]float64, len(batch))
	decayed := 0
	for _, m := range batch {
		next := DecaySalience(m, now)
		if next < m.Salience {
			decayed++
		} else {
			next = m.Salience
		}
		updates[m.ID] = next
	}
	if _, err := d.db.ApplySalience(ctx, updates); err != nil {
		return DecayResult{}, err
	}
	return DecayResult{Processed: len(batch), Decayed: decayed}, nil
}

// tick runs one batch, logging instead of returning failures.
func (d *DecayEngine) tick(ctx context.Context) {
	res, err := d.RunOnce(ctx)
	d.ins.decayRuns.Add(ctx, 1)
	if err != nil {
		d.ins.decayFailures.Add(ctx, 1)
		d.logger.Error("decay run failed", "error", err)
		return
	}
	d.ins.decayUpdated.Add(ctx, int64(res.Decayed))
	if res.Decayed > 0 {
		d.logger.Info("decay run", "processed", res.Processed, "decayed", res.Decayed)
	}
}

// Start runs a batch immediately and then on every interval until Stop.
// Calling Start on a running engine is a no-op.
func (d *DecayEngine) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	d.stopCh = stop

	d.running.Add(1)
	go func() {
		defer d.running.Done()
		d.tick(context.Background())

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.tick(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the timer and waits for an in-flight batch to finish.
func (d *DecayEngine) Stop() {
	d.mu.Lock()
	if d.stopCh == nil {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.stopCh = nil
	d.mu.Unlock()

	d.running.Wait()
}

// Running reports whether the periodic task is active.
func (d *DecayEngine) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCh != nil
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
