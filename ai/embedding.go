package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingService produces the vectors behind topic memory. Every chunk
// written to the memory index and every search query goes through it, so
// chunks and queries are only comparable when they come from the same
// embedding model.
type EmbeddingService interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order. Topic
	// reindexing uses it to amortize request overhead.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector width. It must match the dimension the
	// memory chunk storage was migrated with.
	Dimensions() int
}

type openAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbeddingService builds an embedder against any OpenAI-compatible
// endpoint. The model and dimension are fixed at construction; switching
// either invalidates every stored vector and requires a topic reindex.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &openAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (e *openAIEmbedder) Dimensions() int {
	return e.dimensions
}
