// Package embed produces fixed-dimension vectors for chunk text and queries.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/councilkb/councilkb/internal/adapters"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIEmbedder implements Embedder over an OpenAI-compatible API, splitting
// input into batches of at most the configured size.
type OpenAIEmbedder struct {
	api       *openai.Client
	model     string
	dimension int
	batchSize int
	timeout   time.Duration
	limiter   *rate.Limiter
}

// Option configures the OpenAIEmbedder.
type Option func(*OpenAIEmbedder)

// WithAPI overrides the underlying API client, mainly for tests.
func WithAPI(api *openai.Client) Option {
	return func(e *OpenAIEmbedder) { e.api = api }
}

// NewOpenAIEmbedder builds an embedder from settings.
func NewOpenAIEmbedder(cfg config.LLMSettings, opts ...Option) *OpenAIEmbedder {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	e := &OpenAIEmbedder{
		api:       openai.NewClientWithConfig(apiCfg),
		model:     cfg.EmbeddingModel,
		dimension: cfg.EmbeddingDimension,
		batchSize: cfg.EmbeddingBatchSize,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimension returns the canonical vector dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns one vector per input text, in order. Batches fail or succeed
// as a unit; a dimension mismatch from the upstream is permanent.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, domain.Temporary(err)
	}

	var vectors [][]float32
	err := adapters.Retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.api.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input:      batch,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dimension,
		})
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 429 && apiErr.HTTPStatusCode < 500 {
				return domain.Permanent(err)
			}
			return domain.Temporary(err)
		}
		if len(resp.Data) != len(batch) {
			return domain.Permanent(fmt.Errorf("embedding count %d, want %d", len(resp.Data), len(batch)))
		}

		vectors = vectors[:0]
		for _, d := range resp.Data {
			if len(d.Embedding) != e.dimension {
				return domain.Permanent(fmt.Errorf("embedding dimension %d, want %d", len(d.Embedding), e.dimension))
			}
			vectors = append(vectors, d.Embedding)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch; %w", err)
	}
	return vectors, nil
}
