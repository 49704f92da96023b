package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/councilkb/councilkb/internal/adapters/embed"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// embedStage vectorizes the document's child chunks and completes the
// document. Batches commit independently so a retry resumes from the first
// unembedded chunk instead of redoing the whole document.
type embedStage struct {
	store    *store.Store
	embedder embed.Embedder
	settings *config.Settings
}

func newEmbedStage(s *store.Store, e embed.Embedder, cfg *config.Settings) *embedStage {
	return &embedStage{store: s, embedder: e, settings: cfg}
}

func (st *embedStage) Step() int    { return domain.StepEmbed }
func (st *embedStage) Name() string { return "embed" }

func (st *embedStage) Run(ctx context.Context, doc *domain.Document, opts RunOptions) error {
	children, err := st.store.ChildChunksPendingEmbedding(ctx, doc.ID)
	if err != nil {
		return err
	}

	batchSize := st.settings.LLM.EmbeddingBatchSize
	total := len(children)

	for start := 0; start < total; start += batchSize {
		if opts.cancelled() {
			return ErrCancelled
		}

		end := min(start+batchSize, total)
		batch := children[start:end]

		texts := make([]string, len(batch))
		ids := make([]uuid.UUID, len(batch))
		for i, c := range batch {
			texts[i] = c.SectionHeader + "\n" + c.Content
			ids[i] = c.ID
		}

		vectors, err := st.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}

		if err := st.store.WithTx(ctx, func(tx pgx.Tx) error {
			return st.store.UpdateChunkEmbeddings(ctx, tx, ids, vectors)
		}); err != nil {
			return err
		}

		// Embed owns the last stretch of the progress bar: 86..99.
		opts.progress(domain.StepEmbed, "embed", 86+end*13/total)
	}

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		return st.store.MarkCompleted(ctx, tx, doc.ID)
	})
}
