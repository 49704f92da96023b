// Package retrieval is the hybrid search engine: one query embedding, one
// ranked DB round-trip blending cosine similarity with exponential time
// decay, filtered by the caller's access floor.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/adapters/embed"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// Options narrow and tune one search.
type Options struct {
	Year       *int
	Department *string
	DocType    *domain.DocType
	// UserLevel is the caller's access floor; only chunks at or above it
	// are visible. Zero (the omitted-field default) and out-of-range
	// values fall back to public-only visibility.
	UserLevel int
	// SemanticWeight overrides the configured blend weight when non-nil.
	SemanticWeight *float64
}

// Searcher is the ranking half of the metadata store.
type Searcher interface {
	SearchChunks(ctx context.Context, embedding []float32, f store.SearchFilters,
		k int, semanticWeight, lambdaPerDay float64) ([]store.SearchHit, error)
}

// Hit is one ranked result.
type Hit struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	SectionHeader string    `json:"section_header"`
	Content       string    `json:"content"`
	ParentContent string    `json:"parent_content"`
	Score         float64   `json:"score"`
	EventTitle    *string   `json:"event_title,omitempty"`
	DriveLink     *string   `json:"drive_link,omitempty"`
}

// Response is a full search answer with the retrieval latency.
type Response struct {
	Results   []Hit `json:"results"`
	LatencyMS int64 `json:"latency_ms"`
}

// Engine performs searches. It never writes.
type Engine struct {
	store    Searcher
	embedder embed.Embedder
	settings *config.Settings
}

// New builds an engine.
func New(s Searcher, e embed.Embedder, cfg *config.Settings) *Engine {
	return &Engine{store: s, embedder: e, settings: cfg}
}

// Search embeds the query once and ranks child chunks in a single DB
// round-trip. topK <= 0 short-circuits to an empty, well-formed response
// without calling the embedder.
func (e *Engine) Search(ctx context.Context, query string, topK int, opts Options) (*Response, error) {
	started := time.Now()

	if topK <= 0 {
		return &Response{Results: []Hit{}, LatencyMS: time.Since(started).Milliseconds()}, nil
	}
	if query == "" {
		return nil, domain.InputInvalid(fmt.Errorf("query is empty"))
	}

	// Fail closed: a caller that never stated a level sees public
	// material only.
	userLevel := opts.UserLevel
	if userLevel < domain.AccessRestricted || userLevel > domain.AccessPublic {
		userLevel = domain.AccessPublic
	}
	weight := e.settings.Retrieve.SemanticWeight
	if opts.SemanticWeight != nil {
		weight = *opts.SemanticWeight
	}

	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query; %w", err)
	}

	hits, err := e.store.SearchChunks(ctx, vectors[0], store.SearchFilters{
		Year:       opts.Year,
		Department: opts.Department,
		DocType:    opts.DocType,
		UserLevel:  userLevel,
	}, topK, weight, e.settings.Retrieve.TimeDecayLambda)
	if err != nil {
		return nil, err
	}

	results := make([]Hit, 0, len(hits))
	for _, h := range hits {
		title := h.StandardizedName
		if title == "" {
			title = h.DocumentName
		}
		results = append(results, Hit{
			ChunkID:       h.ChunkID,
			DocumentID:    h.DocumentID,
			DocumentTitle: title,
			SectionHeader: h.SectionHeader,
			Content:       h.Content,
			ParentContent: h.ParentContent,
			Score:         h.Score,
			EventTitle:    h.EventTitle,
			DriveLink:     h.WebURL,
		})
	}

	return &Response{Results: results, LatencyMS: time.Since(started).Milliseconds()}, nil
}
