package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// SearchResult represents a single search result.
type SearchResult struct {
	Memory       *store.Memory `json:"memory"`
	Score        float64       `json:"score"`
	Similarity   float64       `json:"similarity,omitempty"`
	KeywordRank  float64       `json:"keyword_rank,omitempty"`
	IsSuperseded bool          `json:"is_superseded"`
}

// SearchOpts controls search behavior.
type SearchOpts struct {
	Limit             int           // max results (default 10)
	IncludeSuperseded bool          // keep memories with a closed validity window
	Sector            sector.Sector // filter by sector (empty = all)
	Tier              store.Tier    // filter by tier (empty = all)
	MinScore          float64
}

func (o SearchOpts) limit() int {
	if o.Limit <= 0 {
		return 10
	}
	return o.Limit
}

// candidates is how many hits each retriever contributes before filtering.
func (o SearchOpts) candidates() int {
	return max(o.limit()*5, 50)
}

// Search runs hybrid retrieval over a project: full-text candidates and,
// when an embedder is configured, vector candidates, both already narrowed
// by the sector, tier and superseded options. Results are scored by the
// Ranker, cut at MinScore, and the returned memories count as accessed.
func (e *Engine) Search(ctx context.Context, query, projectID string, opts SearchOpts) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	signals := make(map[string]*Signals)
	get := func(id string) *Signals {
		s, ok := signals[id]
		if !ok {
			s = &Signals{}
			signals[id] = s
		}
		return s
	}

	filter := store.SearchFilter{
		ProjectID:         projectID,
		Sector:            opts.Sector,
		Tier:              opts.Tier,
		IncludeSuperseded: opts.IncludeSuperseded,
	}
	keyword, err := e.DB.KeywordSearch(ctx, filter, query, opts.candidates())
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, k := range keyword {
		get(k.MemoryID).KeywordRank = k.Rank
	}

	if e.Embedder != nil {
		matches, err := e.vectorCandidates(ctx, query, filter, opts.candidates())
		if err != nil {
			// Keyword results still stand on their own.
			e.logger.Warn("vector search unavailable", "error", err)
		}
		for _, m := range matches {
			get(m.MemoryID).Similarity = m.Similarity
		}
	}

	if len(signals) == 0 {
		e.record(ctx, nil)
		return nil, nil
	}

	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	mems, err := e.DB.GetMemories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	now := time.Now()
	results := make([]SearchResult, 0, len(mems))
	for id, m := range mems {
		sig := signals[id]
		score := e.Ranker.Score(m, *sig, now)
		if score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Memory:       m,
			Score:        score,
			Similarity:   sig.Similarity,
			KeywordRank:  sig.KeywordRank,
			IsSuperseded: m.IsSuperseded(),
		})
	}

	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	if len(results) > opts.limit() {
		results = results[:opts.limit()]
	}

	if len(results) > 0 {
		touched := make([]string, len(results))
		for i, r := range results {
			touched[i] = r.Memory.ID
		}
		if err := e.DB.TouchMemories(ctx, touched); err != nil {
			e.logger.Warn("touch search results", "error", err)
		}
	}

	e.record(ctx, results)
	return results, nil
}

func (e *Engine) vectorCandidates(ctx context.Context, query string, filter store.SearchFilter, limit int) ([]store.VectorMatch, error) {
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.DB.VectorSearch(ctx, filter, e.Embedder.Model(), vec, limit)
}

func (e *Engine) record(ctx context.Context, results []SearchResult) {
	attrs := metric.WithAttributes(attribute.Bool("vector", e.Embedder != nil))
	e.ins.searchResults.Record(ctx, int64(len(results)), attrs)
	if len(results) > 0 {
		e.ins.searchScore.Record(ctx, results[0].Score, attrs)
	}
}
