package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JoeyEamigh/ccmemory/internal/store"
	"github.com/sashabaranov/go-openai"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
	Provider() string
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Pointing
// BaseURL at Ollama's /v1 works the same way.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder. An empty baseURL uses OpenAI.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		dims:    dims,
		timeout: 30 * time.Second,
	}
}

func (o *OpenAIEmbedder) Model() string    { return o.model }
func (o *OpenAIEmbedder) Dimensions() int  { return o.dims }
func (o *OpenAIEmbedder) Provider() string { return "openai" }

// Embed returns the embedding for text. The result must match the
// declared dimensions.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embedding: no embeddings returned")
	}

	embedding32 := resp.Data[0].Embedding
	if len(embedding32) != o.dims {
		return nil, fmt.Errorf("model %s returned %d dimensions, want %d: %w",
			o.model, len(embedding32), o.dims, store.ErrDimensionMismatch)
	}
	embedding64 := make([]float64, len(embedding32))
	for i, v := range embedding32 {
		embedding64[i] = float64(v)
	}
	return embedding64, nil
}
