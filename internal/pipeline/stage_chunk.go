package pipeline

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/councilkb/councilkb/internal/chunkers"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// chunkStage cuts preprocessed content into parent-child groups and inserts
// them atomically with the step advance.
type chunkStage struct {
	store   *store.Store
	chunker *chunkers.Chunker
}

func newChunkStage(s *store.Store, c *chunkers.Chunker) *chunkStage {
	return &chunkStage{store: s, chunker: c}
}

func (st *chunkStage) Step() int    { return domain.StepChunk }
func (st *chunkStage) Name() string { return "chunk" }

func (st *chunkStage) Run(ctx context.Context, doc *domain.Document, _ RunOptions) error {
	if strings.TrimSpace(doc.PreprocessedContent) == "" {
		return domain.StageFailedf("no preprocessed content for %q", doc.Name)
	}

	groups, err := st.chunker.Chunk(doc.PreprocessedContent, doc.AccessLevel)
	if err != nil {
		return domain.StageFailedf("failed to chunk %q; %v", doc.Name, err)
	}

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, g := range groups {
			g.Parent.DocumentID = doc.ID
			for _, c := range g.Children {
				c.DocumentID = doc.ID
			}
			if err := st.store.InsertChunkGroup(ctx, tx, g.Parent, g.Children); err != nil {
				return err
			}
		}
		return st.store.SetStep(ctx, tx, doc.ID, domain.StepChunk)
	})
}
