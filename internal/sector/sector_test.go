package sector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyExamples(t *testing.T) {
	tests := []struct {
		content string
		want    Sector
	}{
		{"User asked about a file", Episodic},
		{"The parser function is defined in parse.go", Semantic},
		{"How to release: first tag, then run the install script", Procedural},
		{"I prefer tabs and get frustrated by long lines", Emotional},
		{"Learned that retries hide a pattern of flaky tests", Reflective},
		{"", Semantic},
		{"zzz qqq", Semantic},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.content), "Classify(%q)", tt.content)
	}
}

func TestClassifyTieBreakOrder(t *testing.T) {
	// Each input carries exactly one signal for two sectors.
	tests := []struct {
		content string
		want    Sector
	}{
		{"prefer what was learned", Emotional},
		{"prefer the schema", Emotional},
		{"learned what they asked", Reflective},
		{"noticed the install", Reflective},
		{"asked how to deploy", Episodic},
		{"asked about the module", Episodic},
		{"how to read the schema", Procedural},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.content), "Classify(%q)", tt.content)
	}
}

func TestClassifyHighestCountWins(t *testing.T) {
	// Two semantic signals beat one emotional signal.
	got := Classify("I prefer that the module schema stays small")
	assert.Equal(t, Semantic, got)
}

func TestClassifyWordBoundaries(t *testing.T) {
	// "authentication" contains "then" but is not a procedural signal.
	assert.Equal(t, Semantic, Classify("authentication"))
}

func TestClassifyDeterministic(t *testing.T) {
	in := "Earlier the user wanted the API types regenerated"
	first := Classify(in)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Classify(in))
	}
}

func TestParse(t *testing.T) {
	s, err := Parse(" Reflective ")
	require.NoError(t, err)
	assert.Equal(t, Reflective, s)

	_, err = Parse("narrative")
	assert.Error(t, err)
}
