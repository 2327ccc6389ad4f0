package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// Engine orchestrates capture, retrieval, sessions and decay.
type Engine struct {
	DB       *store.DB
	Embedder Embedder
	Ranker   Ranker
	Decay    *DecayEngine
	Sessions *SessionManager

	logger *slog.Logger
	ins    *instruments
}

// New creates a new Engine with default decay settings.
func New(db *store.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ins := newInstruments(nil)
	decay := NewDecayEngine(db, logger.With("component", "decay"), 0, 0)
	decay.ins = ins
	return &Engine{
		DB:       db,
		Decay:    decay,
		Sessions: NewSessionManager(db, logger),
		logger:   logger,
		ins:      ins,
	}
}

// SetEmbedder configures the embedding provider and registers its model
// as the active embedding space.
func (e *Engine) SetEmbedder(ctx context.Context, emb Embedder) error {
	_, err := e.DB.RegisterModel(ctx, store.EmbeddingModel{
		ID:         emb.Model(),
		Provider:   emb.Provider(),
		Dimensions: emb.Dimensions(),
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("set embedder: %w", err)
	}
	e.Embedder = emb
	return nil
}

// Remember sanitizes and stores a capture. New memories are embedded when
// an embedder is configured; an embedding failure is logged and the
// memory is kept without a vector.
func (e *Engine) Remember(ctx context.Context, in store.MemoryInput, projectID, sessionID string) (*store.CreateResult, error) {
	in, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	res, err := e.DB.CreateMemory(ctx, in, projectID, sessionID)
	if err != nil {
		return nil, err
	}
	if !res.Duplicate {
		if err := e.EmbedMemory(ctx, res.Memory); err != nil {
			e.logger.Warn("embed memory", "id", res.Memory.ID, "error", err)
		}
	}
	return res, nil
}

// EmbedMemory generates and stores an embedding for a single memory.
func (e *Engine) EmbedMemory(ctx context.Context, m *store.Memory) error {
	if e.Embedder == nil {
		return nil
	}
	text := m.Content
	if m.Summary != "" {
		text = m.Summary + "\n" + m.Content
	}
	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", m.ID, err)
	}
	return e.DB.SaveVector(ctx, m.ID, e.Embedder.Model(), vec)
}

// EmbedMissing embeds up to limit memories in a project that have no
// vector under the current model. Returns how many were embedded.
func (e *Engine) EmbedMissing(ctx context.Context, projectID string, limit int) (int, error) {
	if e.Embedder == nil {
		return 0, nil
	}
	ids, err := e.DB.MissingVectors(ctx, projectID, e.Embedder.Model(), limit)
	if err != nil {
		return 0, err
	}
	mems, err := e.DB.GetMemories(ctx, ids)
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, id := range ids {
		m, ok := mems[id]
		if !ok {
			continue
		}
		if err := e.EmbedMemory(ctx, m); err != nil {
			e.logger.Warn("embed missing", "id", id, "error", err)
			continue
		}
		embedded++
	}
	return embedded, nil
}

// ConfigureDecay replaces the decay schedule. Call before StartDecayTimer.
func (e *Engine) ConfigureDecay(interval time.Duration, batchSize int) {
	d := NewDecayEngine(e.DB, e.logger.With("component", "decay"), interval, batchSize)
	d.ins = e.ins
	e.Decay = d
}

// StartDecayTimer runs decay on startup and then on the decay interval.
func (e *Engine) StartDecayTimer() {
	e.Decay.Start()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.Decay.Stop()
}
