package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeyEamigh/ccmemory/internal/store"
)

// embeddingServer serves an OpenAI-compatible /embeddings endpoint that
// always returns vec.
func embeddingServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) != 1 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
			"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := embeddingServer(t, []float32{0.25, -0.5, 1})
	emb := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "text-embedding-3-small", 3)

	assert.Equal(t, "text-embedding-3-small", emb.Model())
	assert.Equal(t, 3, emb.Dimensions())

	vec, err := emb.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, -0.5, 1}, vec)
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, []float32{0.1, 0.2})
	emb := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "small", 3)

	_, err := emb.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestOpenAIEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	emb := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "small", 3)

	_, err := emb.Embed(context.Background(), "hello")
	assert.Error(t, err)
}
