package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeyEamigh/ccmemory/internal/engine"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// runCLI executes the root command against a scratch database and returns
// stdout.
func runCLI(t *testing.T, dbFile string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--db", dbFile, "--project", "proj", "--json"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbFile := filepath.Join(t.TempDir(), "memory.db")

	mustRun := func(args ...string) []byte {
		t.Helper()
		out, err := runCLI(t, dbFile, args...)
		require.NoError(t, err, "ccmemory %v", args)
		return []byte(out)
	}

	var oldRes, newRes store.CreateResult
	require.NoError(t, json.Unmarshal(mustRun("add", "Old API endpoint documentation"), &oldRes))
	require.NoError(t, json.Unmarshal(mustRun("add", "New API endpoint documentation"), &newRes))
	assert.False(t, newRes.Duplicate)

	var rel store.Relationship
	require.NoError(t, json.Unmarshal(mustRun("supersede", oldRes.Memory.ID, newRes.Memory.ID), &rel))
	assert.Equal(t, store.Supersedes, rel.Type)

	var results []engine.SearchResult
	require.NoError(t, json.Unmarshal(mustRun("search", "API", "endpoint"), &results))
	require.Len(t, results, 1)
	assert.Equal(t, newRes.Memory.ID, results[0].Memory.ID)

	var got struct {
		Memory       *store.Memory `json:"memory"`
		SupersededBy *store.Memory `json:"superseded_by"`
	}
	require.NoError(t, json.Unmarshal(mustRun("get", oldRes.Memory.ID), &got))
	assert.True(t, got.Memory.IsSuperseded())
	require.NotNil(t, got.SupersededBy)
	assert.Equal(t, newRes.Memory.ID, got.SupersededBy.ID)

	var tl engine.Timeline
	require.NoError(t, json.Unmarshal(mustRun("timeline", newRes.Memory.ID), &tl))
	require.Len(t, tl.Before, 1)
	assert.Equal(t, oldRes.Memory.ID, tl.Before[0].ID)

	var decay engine.DecayResult
	require.NoError(t, json.Unmarshal(mustRun("decay"), &decay))
	assert.Equal(t, 2, decay.Processed)

	mustRun("delete", oldRes.Memory.ID)
	_, err := runCLI(t, dbFile, "get", oldRes.Memory.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = runCLI(t, dbFile, "session", "end", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := runCLI(t, filepath.Join(t.TempDir(), "memory.db"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ccmemory dev")
}
