// Package app assembles the runtime components from a validated Settings
// value. Commands build an App and pick the pieces they need; the wiring
// order (store, queue, adapters, pipeline, retrieval, chat) lives here so
// serve, worker, and ingest agree on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/councilkb/councilkb/internal/adapters/docparse"
	"github.com/councilkb/councilkb/internal/adapters/drive"
	"github.com/councilkb/councilkb/internal/adapters/embed"
	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/blob"
	"github.com/councilkb/councilkb/internal/chat"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/pipeline"
	"github.com/councilkb/councilkb/internal/queue"
	"github.com/councilkb/councilkb/internal/retrieval"
	"github.com/councilkb/councilkb/internal/store"
)

// App holds the wired components.
type App struct {
	Settings *config.Settings
	Logger   *slog.Logger

	Store    *store.Store
	Queue    *queue.Queue
	Blobs    blob.Store
	Pipeline *pipeline.Pipeline
	Engine   *retrieval.Engine
	Chat     *chat.Service
}

// New connects to Postgres, Redis, and the blob store, then wires the
// pipeline and query components on top. A partial failure closes whatever
// was already opened.
func New(ctx context.Context, settings *config.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, settings.DB.ConnString, store.Options{
		EmbeddingDim:    settings.LLM.EmbeddingDimension,
		HNSWM:           settings.DB.HNSWM,
		HNSWEfConstruct: settings.DB.HNSWEfConstruct,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store; %w", err)
	}

	q, err := queue.New(ctx, settings.Queue)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open queue; %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, settings.Blob)
	if err != nil {
		st.Close()
		_ = q.Close()
		return nil, fmt.Errorf("failed to open blob store; %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		st.Close()
		_ = q.Close()
		return nil, fmt.Errorf("failed to ensure bucket; %w", err)
	}

	llmClient := llm.NewOpenAIClient(settings.LLM)
	embedder := embed.NewOpenAIEmbedder(settings.LLM)

	pipe := pipeline.New(pipeline.Config{
		Store:    st,
		Blobs:    blobs,
		Drive:    drive.NewClient(settings.Drive),
		Parser:   docparse.NewClient(settings.Parser),
		LLM:      llmClient,
		Embedder: embedder,
		Settings: settings,
		Logger:   logger,
	})

	engine := retrieval.New(st, embedder, settings)

	sessions := chat.NewSessions(q.Client(), q.Prefix(),
		settings.Chat.WindowTurns, settings.Chat.SessionTTL)
	chatSvc := chat.New(sessions, engine, llmClient, st, settings, logger)

	return &App{
		Settings: settings,
		Logger:   logger,
		Store:    st,
		Queue:    q,
		Blobs:    blobs,
		Pipeline: pipe,
		Engine:   engine,
		Chat:     chatSvc,
	}, nil
}

// Close releases the store and queue connections.
func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
