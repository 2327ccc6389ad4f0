// Package sector classifies memory content into one of five semantic sectors.
package sector

import (
	"fmt"
	"regexp"
	"strings"
)

// Sector is the semantic category of a memory.
type Sector string

const (
	Episodic   Sector = "episodic"
	Semantic   Sector = "semantic"
	Procedural Sector = "procedural"
	Emotional  Sector = "emotional"
	Reflective Sector = "reflective"
)

// All lists every sector in tie-break priority order.
var All = []Sector{Emotional, Reflective, Episodic, Procedural, Semantic}

// Valid reports whether s is one of the five known sectors.
func (s Sector) Valid() bool {
	for _, known := range All {
		if s == known {
			return true
		}
	}
	return false
}

// Parse converts external input into a Sector.
func Parse(s string) (Sector, error) {
	sec := Sector(strings.ToLower(strings.TrimSpace(s)))
	if !sec.Valid() {
		return "", fmt.Errorf("unknown sector %q", s)
	}
	return sec, nil
}

type signals struct {
	sector   Sector
	patterns []*regexp.Regexp
}

func phrases(sec Sector, words ...string) signals {
	sig := signals{sector: sec}
	for _, w := range words {
		sig.patterns = append(sig.patterns, regexp.MustCompile(`\b`+w+`\b`))
	}
	return sig
}

// Ordered by tie-break priority: on equal counts the earlier entry wins.
var signalTable = []signals{
	phrases(Emotional,
		"prefers?", "preferred", "frustrat(ed|ing|ion)", "pain points?", "annoy(ed|ing)",
		"hates?", "loves?", "dislikes?", "happy with", "unhappy", "confusing",
		"wish(es)?", "worried",
	),
	phrases(Reflective,
		"learned", "noticed", "patterns?", "realized", "insights?", "lessons?",
		"in retrospect", "takeaways?", "observed", "tends to", "going forward",
	),
	phrases(Episodic,
		"asked", "wanted", "earlier", "yesterday", "today", "just now",
		"last time", "previously", "this morning", "we tried", "requested",
	),
	phrases(Procedural,
		"how to", "run", "steps?", "first", "then", "install", "execute",
		"commands?", "workflow", "configure",
	),
	phrases(Semantic,
		"is located", "functions?", "defined in", "refers to", "means",
		"consists of", "represents", "definition", "modules?", "files?",
		"schema", "types?",
	),
}

// Classify maps content to a sector by counting keyword signals. The
// highest count wins, ties go to the earlier sector in All, and content
// with no signals is Semantic.
func Classify(content string) Sector {
	text := strings.ToLower(content)

	best := Semantic
	bestCount := 0
	for _, sig := range signalTable {
		count := 0
		for _, re := range sig.patterns {
			if re.MatchString(text) {
				count++
			}
		}
		if count > bestCount {
			best = sig.sector
			bestCount = count
		}
	}
	return best
}
