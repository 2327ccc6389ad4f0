package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JoeyEamigh/ccmemory/internal/config"
	"github.com/JoeyEamigh/ccmemory/internal/engine"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

const defaultOllamaURL = "http://localhost:11434/v1"

// openEngine opens the configured database and builds an engine over it.
// The returned close func releases both.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.NearDuplicateDistance = cfg.Database.NearDuplicateDistance

	eng := engine.New(db, logger)
	eng.Ranker = engine.Ranker{Weights: engine.Weights(cfg.Search.Weights)}
	if err := eng.Ranker.Weights.Validate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("search.weights: %w", err)
	}
	eng.ConfigureDecay(cfg.Decay.Interval, cfg.Decay.BatchSize)

	if emb := newEmbedder(cfg.Embedding); emb != nil {
		if err := eng.SetEmbedder(ctx, emb); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return eng, func() {
		eng.Stop()
		db.Close()
	}, nil
}

// newEmbedder returns nil when no provider is configured.
func newEmbedder(ec config.EmbeddingConfig) engine.Embedder {
	apiKey := ec.APIKey
	baseURL := ec.BaseURL
	switch ec.Provider {
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	case "ollama":
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		if apiKey == "" {
			apiKey = "ollama"
		}
	default:
		return nil
	}
	return engine.NewOpenAIEmbedder(apiKey, baseURL, ec.Model, ec.Dimensions)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
