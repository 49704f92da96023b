// Package pipeline runs the seven-stage ingestion pipeline: ingest folders
// into registered documents, then drive each document through classify,
// parse, preprocess, chunk, enrich, and embed. Stage writes commit together
// with the document's step advance, so a crash never leaves a half-applied
// stage behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/adapters/docparse"
	"github.com/councilkb/councilkb/internal/adapters/drive"
	"github.com/councilkb/councilkb/internal/adapters/embed"
	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/blob"
	"github.com/councilkb/councilkb/internal/chunkers"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// ErrCancelled is returned when a run is revoked between stages or between
// embed batches.
var ErrCancelled = errors.New("pipeline run cancelled")

// Stage runs one pipeline step for a document. Run commits its own writes
// together with the step advance; the orchestrator never writes stage output.
type Stage interface {
	Step() int
	Name() string
	Run(ctx context.Context, doc *domain.Document, opts RunOptions) error
}

// ProgressFunc receives coarse progress at stage boundaries and per embed
// batch. percent is 0..100.
type ProgressFunc func(step int, name string, percent int)

// RunOptions carries the per-run hooks the queue wires in.
type RunOptions struct {
	Progress  ProgressFunc
	Cancelled func() bool
}

func (o RunOptions) progress(step int, name string, percent int) {
	if o.Progress != nil {
		o.Progress(step, name, percent)
	}
}

func (o RunOptions) cancelled() bool {
	return o.Cancelled != nil && o.Cancelled()
}

// Config holds the pipeline's dependencies.
type Config struct {
	Store    *store.Store
	Blobs    blob.Store
	Drive    drive.Syncer
	Parser   docparse.Parser
	LLM      llm.Client
	Embedder embed.Embedder
	Settings *config.Settings
	Logger   *slog.Logger
}

// Pipeline drives documents through the stages.
type Pipeline struct {
	store    *store.Store
	settings *config.Settings
	logger   *slog.Logger
	drive    drive.Syncer
	blobs    blob.Store

	stages []Stage

	maxRetries int
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithStages replaces the default stage set, for testing.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) { p.stages = stages }
}

// New builds the pipeline with the standard six per-document stages.
func New(cfg Config, opts ...Option) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chunker := chunkers.New()
	p := &Pipeline{
		store:    cfg.Store,
		settings: cfg.Settings,
		logger:   logger,
		drive:    cfg.Drive,
		blobs:    cfg.Blobs,
		stages: []Stage{
			newClassifyStage(cfg.Store, cfg.LLM),
			newParseStage(cfg.Store, cfg.Parser, cfg.LLM, cfg.Blobs, cfg.Settings, logger),
			newPreprocessStage(cfg.Store, cfg.LLM),
			newChunkStage(cfg.Store, chunker),
			newEnrichStage(cfg.Store, cfg.LLM, cfg.Settings, logger),
			newEmbedStage(cfg.Store, cfg.Embedder, cfg.Settings),
		},
		maxRetries: cfg.Settings.Queue.MaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunResult summarizes one per-document run. Skipped means the document was
// already completed and no stage ran.
type RunResult struct {
	DocumentID uuid.UUID        `json:"document_id"`
	Status     domain.DocStatus `json:"status"`
	Chunks     int              `json:"chunks"`
	Skipped    bool             `json:"skipped,omitempty"`
}

// Run drives one document through every stage it has not yet completed.
// A document already completed is a no-op. Temporary stage errors retry with
// backoff; permanent errors and retry exhaustion mark the document failed and
// stop the run.
func (p *Pipeline) Run(ctx context.Context, docID uuid.UUID, opts RunOptions) (*RunResult, error) {
	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s; %w", docID, err)
	}
	if doc.Status == domain.StatusCompleted {
		n, _ := p.store.CountDocumentChunks(ctx, docID)
		return &RunResult{DocumentID: docID, Status: doc.Status, Chunks: n, Skipped: true}, nil
	}

	if err := p.store.MarkProcessing(ctx, docID); err != nil {
		return nil, err
	}

	for _, st := range p.stages {
		if opts.cancelled() {
			return nil, ErrCancelled
		}

		doc, err = p.store.GetDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		if doc.CurrentStep >= st.Step() {
			continue
		}

		p.logger.Info("running stage", "document", docID, "stage", st.Name(), "step", st.Step())
		opts.progress(st.Step(), st.Name(), (st.Step()-1)*100/domain.StepEmbed)

		if err := p.runStage(ctx, st, doc, opts); err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			msg := fmt.Sprintf("%s: %v", st.Name(), err)
			if markErr := p.store.MarkFailed(ctx, docID, msg); markErr != nil {
				p.logger.Error("failed to record stage failure", "document", docID, "error", markErr)
			}
			return &RunResult{DocumentID: docID, Status: domain.StatusFailed},
				domain.StageFailedf("stage %s failed for %s; %v", st.Name(), docID, err)
		}
	}

	doc, err = p.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	n, err := p.store.CountDocumentChunks(ctx, docID)
	if err != nil {
		return nil, err
	}

	opts.progress(domain.StepEmbed, "done", 100)
	return &RunResult{DocumentID: docID, Status: doc.Status, Chunks: n}, nil
}

// runStage executes one stage with the temporary-error retry envelope.
func (p *Pipeline) runStage(ctx context.Context, st Stage, doc *domain.Document, opts RunOptions) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 60 * time.Second

	attempts := uint64(p.maxRetries)
	if attempts == 0 {
		attempts = 1
	}

	return backoff.Retry(func() error {
		err := st.Run(ctx, doc, opts)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCancelled) || !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		p.logger.Warn("stage attempt failed, retrying", "stage", st.Name(), "document", doc.ID, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}

// Reprocess clears everything downstream of fromStep in one transaction and
// runs the document again from there.
func (p *Pipeline) Reprocess(ctx context.Context, docID uuid.UUID, fromStep int, opts RunOptions) (*RunResult, error) {
	if err := p.store.ClearDownstream(ctx, docID, fromStep); err != nil {
		return nil, err
	}
	return p.Run(ctx, docID, opts)
}
