package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// Weights are the coefficients of the four ranking signals.
type Weights struct {
	Semantic float64 `json:"semantic" mapstructure:"semantic"`
	Keyword  float64 `json:"keyword" mapstructure:"keyword"`
	Salience float64 `json:"salience" mapstructure:"salience"`
	Recency  float64 `json:"recency" mapstructure:"recency"`
}

// DefaultWeights favors semantic similarity, then keyword relevance.
var DefaultWeights = Weights{Semantic: 0.40, Keyword: 0.25, Salience: 0.20, Recency: 0.15}

// Validate rejects negative weights and weights summing above 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic": w.Semantic, "keyword": w.Keyword, "salience": w.Salience, "recency": w.Recency,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %v", name, v)
		}
	}
	if sum := w.Semantic + w.Keyword + w.Salience + w.Recency; sum > 1+1e-9 {
		return fmt.Errorf("weights sum to %v, must be <= 1", sum)
	}
	return nil
}

// SectorBoost multiplies a memory's score by sector.
var SectorBoost = map[sector.Sector]float64{
	sector.Reflective: 1.2,
	sector.Emotional:  1.1,
	sector.Procedural: 1.0,
	sector.Semantic:   1.0,
	sector.Episodic:   0.8,
}

const (
	// supersededPenalty halves the score of memories with a closed validity window.
	supersededPenalty = 0.5
	recencyDecay      = 0.05
	keywordScale      = 10.0
)

// Signals are the raw retrieval inputs for one candidate.
type Signals struct {
	// Similarity is cosine similarity from vector search, 0 when absent.
	Similarity float64
	// KeywordRank is the raw full-text rank, 0 when absent.
	KeywordRank float64
}

// Ranker scores memories. The zero value uses DefaultWeights.
type Ranker struct {
	Weights Weights
}

func (r Ranker) weights() Weights {
	if r.Weights == (Weights{}) {
		return DefaultWeights
	}
	return r.Weights
}

// Score combines similarity, keyword rank, salience and recency into a
// value in [0, 1].
func (r Ranker) Score(m *store.Memory, sig Signals, now time.Time) float64 {
	w := r.weights()

	keyword := math.Min(1, math.Abs(sig.KeywordRank)/keywordScale)
	days := now.Sub(time.UnixMilli(m.CreatedAt)).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-recencyDecay * days)
	sim := clamp(sig.Similarity, 0, 1)

	score := w.Semantic*sim + w.Keyword*keyword + w.Salience*m.Salience + w.Recency*recency
	if boost, ok := SectorBoost[m.Sector]; ok {
		score *= boost
	}
	if m.IsSuperseded() {
		score *= supersededPenalty
	}
	return clamp(score, 0, 1)
}

// less orders results by score, then salience, then newer first, then id.
func less(a, b SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Memory.Salience != b.Memory.Salience {
		return a.Memory.Salience > b.Memory.Salience
	}
	if a.Memory.CreatedAt != b.Memory.CreatedAt {
		return a.Memory.CreatedAt > b.Memory.CreatedAt
	}
	return a.Memory.ID < b.Memory.ID
}
