package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/pipeline"
	"github.com/councilkb/councilkb/internal/store"
)

// Pool runs tasks from the queue on a fixed set of workers. Within one task,
// stages run sequentially; fan-out happens inside stages.
type Pool struct {
	queue    *Queue
	pipeline *pipeline.Pipeline
	store    *store.Store
	settings *config.Settings
	logger   *slog.Logger
}

// NewPool builds a worker pool.
func NewPool(q *Queue, p *pipeline.Pipeline, s *store.Store, cfg *config.Settings, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, pipeline: p, store: s, settings: cfg, logger: logger}
}

// Run starts the workers and the stale-task reaper, then blocks until ctx is
// cancelled and every worker has drained its current task.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.settings.Queue.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.workLoop(ctx, worker)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reapLoop(ctx)
	}()

	wg.Wait()
}

// reapLoop periodically re-enqueues tasks whose worker died before acking.
// A task is considered abandoned once it has been claimed longer than the
// hard timeout plus slack, so a live worker is never raced.
func (p *Pool) reapLoop(ctx context.Context) {
	staleAfter := p.settings.Queue.HardTimeout + time.Minute

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := p.queue.ReapStale(ctx, staleAfter)
			if err != nil {
				p.logger.Warn("failed to reap stale tasks", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Info("re-enqueued abandoned tasks", "count", n)
			}
		}
	}
}

func (p *Pool) workLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := p.queue.Dequeue(ctx, p.settings.Queue.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", "worker", worker, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		p.execute(ctx, worker, task)
	}
}

// execute runs one task under the hard deadline, logging a checkpoint at the
// soft deadline so stuck tasks are visible before they are killed.
func (p *Pool) execute(ctx context.Context, worker int, task *Task) {
	// Ack after the terminal state is recorded. If the ack itself fails
	// the task is redelivered and skipped as already done.
	defer func() {
		if err := p.queue.Ack(ctx, task); err != nil {
			p.logger.Warn("failed to ack task", "task", task.ID, "error", err)
		}
	}()

	if p.queue.IsCancelled(ctx, task.ID) {
		p.queue.MarkRevoked(ctx, task.ID)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.settings.Queue.HardTimeout)
	defer cancel()

	softTimer := time.AfterFunc(p.settings.Queue.SoftTimeout, func() {
		p.logger.Warn("task passed soft deadline", "task", task.ID, "kind", task.Kind)
	})
	defer softTimer.Stop()

	p.logger.Info("task started", "worker", worker, "task", task.ID, "kind", task.Kind)
	if err := p.queue.MarkStarted(runCtx, task.ID); err != nil {
		p.logger.Error("failed to mark task started", "task", task.ID, "error", err)
	}

	var result any
	var err error
	switch task.Kind {
	case KindIngestFolder:
		result, err = p.runIngest(runCtx, task)
	case KindRunPipeline:
		result, err = p.runPipeline(runCtx, task)
	case KindReprocess:
		result, err = p.runReprocess(runCtx, task)
	case KindRebuildIndex:
		result, err = p.runRebuild(runCtx)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		p.queue.MarkRevoked(ctx, task.ID)
		p.logger.Info("task revoked", "task", task.ID)
	case err != nil:
		p.queue.MarkFailure(ctx, task.ID, err.Error())
		p.logger.Error("task failed", "task", task.ID, "kind", task.Kind, "error", err)
	default:
		p.queue.MarkSuccess(ctx, task.ID, result)
		p.logger.Info("task finished", "task", task.ID, "kind", task.Kind)
	}
}

// runIngest scans the folder and fans out one pipeline task per registered
// document. The scan's own failure still reports the documents registered
// before it as partial progress.
func (p *Pool) runIngest(ctx context.Context, task *Task) (any, error) {
	res, err := p.pipeline.IngestFolder(ctx, task.FolderID, pipeline.IngestOptions{
		PurgeMissing: task.PurgeMissing,
	})
	if err != nil {
		if res != nil && len(res.Registered) > 0 {
			return nil, fmt.Errorf("folder scan failed after registering %d documents; %w", len(res.Registered), err)
		}
		return nil, err
	}

	for _, docID := range res.Registered {
		if _, err := p.queue.Enqueue(ctx, &Task{Kind: KindRunPipeline, DocumentID: docID}); err != nil {
			return nil, fmt.Errorf("failed to enqueue pipeline for %s; %w", docID, err)
		}
	}

	return map[string]any{
		"documents_found": len(res.Registered),
		"created":         res.Created,
		"references":      res.References,
		"purged":          res.Purged,
		"failed":          res.Failed,
	}, nil
}

func (p *Pool) runPipeline(ctx context.Context, task *Task) (any, error) {
	res, err := p.pipeline.Run(ctx, task.DocumentID, p.hooks(ctx, task.ID))
	if err != nil {
		return nil, err
	}
	p.noteNewChunks(ctx, res)
	return res, nil
}

func (p *Pool) runReprocess(ctx context.Context, task *Task) (any, error) {
	res, err := p.pipeline.Reprocess(ctx, task.DocumentID, task.FromStep, p.hooks(ctx, task.ID))
	if err != nil {
		return nil, err
	}
	p.noteNewChunks(ctx, res)
	return res, nil
}

func (p *Pool) runRebuild(ctx context.Context) (any, error) {
	if err := p.store.RebuildVectorIndex(ctx); err != nil {
		return nil, err
	}
	if err := p.queue.ResetChunksSinceRebuild(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"rebuilt": true}, nil
}

func (p *Pool) hooks(ctx context.Context, taskID string) pipeline.RunOptions {
	return pipeline.RunOptions{
		Progress: func(step int, name string, percent int) {
			if err := p.queue.SetProgress(ctx, taskID, percent, name); err != nil {
				p.logger.Warn("failed to record progress", "task", taskID, "error", err)
			}
		},
		Cancelled: func() bool {
			return p.queue.IsCancelled(ctx, taskID)
		},
	}
}

// noteNewChunks counts freshly embedded chunks toward the index-rebuild
// threshold and enqueues a rebuild when it is crossed.
func (p *Pool) noteNewChunks(ctx context.Context, res *pipeline.RunResult) {
	if res == nil || res.Skipped || res.Chunks == 0 {
		return
	}

	total, err := p.queue.AddChunksSinceRebuild(ctx, res.Chunks)
	if err != nil {
		p.logger.Warn("failed to track rebuild counter", "error", err)
		return
	}
	if total >= p.settings.DB.IndexRebuildAfter {
		if _, err := p.queue.Enqueue(ctx, &Task{Kind: KindRebuildIndex}); err != nil {
			p.logger.Warn("failed to enqueue index rebuild", "error", err)
			return
		}
		// Reset immediately so concurrent completions do not queue
		// duplicate rebuilds.
		p.queue.ResetChunksSinceRebuild(ctx)
	}
}
