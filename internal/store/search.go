package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
)

// SearchFilter scopes candidate retrieval. Filters apply before the
// candidate limit.
type SearchFilter struct {
	ProjectID         string
	Sector            sector.Sector
	Tier              Tier
	IncludeSuperseded bool
}

// where returns the predicates for memories aliased as m.
func (f SearchFilter) where() (string, []any) {
	clause := ` AND m.project_id = ? AND m.is_deleted = 0`
	args := []any{f.ProjectID}
	if f.Sector != "" {
		clause += ` AND m.sector = ?`
		args = append(args, string(f.Sector))
	}
	if f.Tier != "" {
		clause += ` AND m.tier = ?`
		args = append(args, string(f.Tier))
	}
	if !f.IncludeSuperseded {
		clause += ` AND m.valid_until IS NULL`
	}
	return clause, args
}

// KeywordMatch is a full-text hit. Rank is the raw bm25 value (lower is
// better, typically negative).
type KeywordMatch struct {
	MemoryID string
	Rank     float64
}

// KeywordSearch runs an FTS5 query over content, summary, tags and concepts
// of memories matching the filter. Query terms are OR-ed together.
func (db *DB) KeywordSearch(ctx context.Context, f SearchFilter, query string, limit int) ([]KeywordMatch, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	where, args := f.where()
	args = append([]any{match}, args...)
	args = append(args, limit)
	rows, err := db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?`+where+`
		ORDER BY score
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		var km KeywordMatch
		if err := rows.Scan(&km.MemoryID, &km.Rank); err != nil {
			return nil, fmt.Errorf("scan keyword match: %w", err)
		}
		matches = append(matches, km)
	}
	return matches, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 expression: every word becomes
// a quoted term so operators and punctuation in user input are inert.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
