// Package queue is the durable task queue: a Redis list with blocking
// dequeue into a per-queue processing list, a per-task state hash, and a
// cancellation flag checked between stages. Delivery is at-least-once: a
// dequeued task stays on the processing list until acked, and a reaper
// re-enqueues entries whose worker died before acking. The queue is the
// single authority for task state; callers poll by task id.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/councilkb/councilkb/internal/config"
)

// Kind discriminates task payloads.
type Kind string

const (
	KindIngestFolder Kind = "ingest_folder"
	KindRunPipeline  Kind = "run_full_pipeline"
	KindReprocess    Kind = "reprocess_document"
	KindRebuildIndex Kind = "rebuild_hnsw_index"
)

// State is the task lifecycle state.
type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRevoked  State = "REVOKED"
)

// Task is one queued unit of work. Fields beyond ID and Kind are
// kind-specific.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	FolderID   string    `json:"folder_id,omitempty"`
	DocumentID uuid.UUID `json:"document_id,omitempty"`
	FromStep   int       `json:"from_step,omitempty"`
	// PurgeMissing applies to ingest_folder only.
	PurgeMissing bool      `json:"purge_missing,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`

	// raw is the exact wire payload this task was delivered as, kept so
	// Ack can remove it from the processing list.
	raw string
}

// Status is the externally visible task state.
type Status struct {
	TaskID   string          `json:"task_id"`
	State    State           `json:"state"`
	Progress int             `json:"progress"`
	Step     string          `json:"step,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Queue is the Redis-backed task queue.
type Queue struct {
	client    *redis.Client
	prefix    string
	resultTTL time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.QueueSettings) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url; %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis; %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "councilkb:"
	}

	return &Queue{client: client, prefix: prefix, resultTTL: cfg.ResultTTL}, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(client *redis.Client, prefix string, resultTTL time.Duration) *Queue {
	return &Queue{client: client, prefix: prefix, resultTTL: resultTTL}
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Client exposes the underlying Redis client so other Redis-backed
// components (session cache) can share the connection.
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Prefix returns the key prefix in effect, defaults applied.
func (q *Queue) Prefix() string {
	return q.prefix
}

func (q *Queue) listKey() string       { return q.prefix + "tasks" }
func (q *Queue) processingKey() string { return q.prefix + "processing" }

func (q *Queue) taskKey(id string) string { return q.prefix + "task:" + id }
func (q *Queue) cancelKey(id string) string {
	return q.prefix + "cancel:" + id
}

// Enqueue pushes a task and registers its PENDING state. A task without an
// id gets one.
func (q *Queue) Enqueue(ctx context.Context, t *Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.EnqueuedAt = time.Now()

	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task; %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.taskKey(t.ID), "state", string(StatePending), "progress", 0)
	pipe.Expire(ctx, q.taskKey(t.ID), q.resultTTL)
	pipe.RPush(ctx, q.listKey(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue task; %w", err)
	}
	return t.ID, nil
}

// Dequeue blocks up to timeout for the next task. A nil task with nil error
// means the wait timed out. The task moves atomically onto the processing
// list and stays there until Ack, so a worker crash never loses it.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	payload, err := q.client.BLMove(ctx, q.listKey(), q.processingKey(), "LEFT", "RIGHT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue; %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		// A payload that cannot decode can never be acked; drop it so it
		// does not wedge the processing list.
		q.client.LRem(ctx, q.processingKey(), 1, payload)
		return nil, fmt.Errorf("failed to unmarshal task; %w", err)
	}
	t.raw = payload

	// Best-effort claim stamp. If it is lost, the reaper falls back to
	// EnqueuedAt and the task is simply redelivered sooner.
	_ = q.setFields(ctx, t.ID, "claimed_at", time.Now().Unix())
	return &t, nil
}

// Ack removes a delivered task from the processing list once its terminal
// state is recorded. An unacked task is eventually redelivered by ReapStale.
func (q *Queue) Ack(ctx context.Context, t *Task) error {
	if t == nil || t.raw == "" {
		return nil
	}
	if err := q.client.LRem(ctx, q.processingKey(), 1, t.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack task %s; %w", t.ID, err)
	}
	return nil
}

// ReapStale re-enqueues processing entries claimed longer than staleAfter
// ago, covering workers that died between dequeue and ack. Redelivery can
// duplicate a task when an ack races the reaper; task handlers tolerate
// that because completed documents are skipped on re-run. Returns the
// number of tasks re-enqueued.
func (q *Queue) ReapStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	payloads, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing list; %w", err)
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	reaped := 0
	for _, payload := range payloads {
		var t Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			q.client.LRem(ctx, q.processingKey(), 1, payload)
			continue
		}

		claimed, err := q.client.HGet(ctx, q.taskKey(t.ID), "claimed_at").Int64()
		if err != nil {
			claimed = t.EnqueuedAt.Unix()
		}
		if claimed > cutoff {
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, payload)
		pipe.RPush(ctx, q.listKey(), payload)
		pipe.HSet(ctx, q.taskKey(t.ID), "state", string(StatePending))
		pipe.HDel(ctx, q.taskKey(t.ID), "claimed_at")
		if _, err := pipe.Exec(ctx); err != nil {
			return reaped, fmt.Errorf("failed to re-enqueue task %s; %w", t.ID, err)
		}
		reaped++
	}
	return reaped, nil
}

// Status reads the task state hash. A missing task maps to ErrUnknownTask.
func (q *Queue) Status(ctx context.Context, taskID string) (*Status, error) {
	vals, err := q.client.HGetAll(ctx, q.taskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task state; %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrUnknownTask
	}

	st := &Status{TaskID: taskID, State: State(vals["state"]), Step: vals["step"], Error: vals["error"]}
	fmt.Sscanf(vals["progress"], "%d", &st.Progress)
	if r := vals["result"]; r != "" {
		st.Result = json.RawMessage(r)
	}
	return st, nil
}

// ErrUnknownTask is returned by Status for ids the queue has never seen or
// whose state expired.
var ErrUnknownTask = errors.New("unknown task")

// MarkStarted flips a task to STARTED.
func (q *Queue) MarkStarted(ctx context.Context, taskID string) error {
	return q.setFields(ctx, taskID, "state", string(StateStarted))
}

// SetProgress records mid-run progress and the current step label.
func (q *Queue) SetProgress(ctx context.Context, taskID string, percent int, step string) error {
	return q.setFields(ctx, taskID, "state", string(StateProgress), "progress", percent, "step", step)
}

// MarkSuccess finishes a task with its result document.
func (q *Queue) MarkSuccess(ctx context.Context, taskID string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result; %w", err)
	}
	return q.setFields(ctx, taskID, "state", string(StateSuccess), "progress", 100, "result", string(payload))
}

// MarkFailure finishes a task with an error message.
func (q *Queue) MarkFailure(ctx context.Context, taskID, message string) error {
	return q.setFields(ctx, taskID, "state", string(StateFailure), "error", message)
}

// MarkRevoked records a cancelled task.
func (q *Queue) MarkRevoked(ctx context.Context, taskID string) error {
	return q.setFields(ctx, taskID, "state", string(StateRevoked))
}

// Cancel requests cancellation. Idempotent; cancelling an unknown or
// finished task is a no-op. Running tasks observe the flag between stages
// and per embed batch.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	if err := q.client.Set(ctx, q.cancelKey(taskID), "1", q.resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag; %w", err)
	}

	// A task still pending will never start; revoke it outright.
	state, err := q.client.HGet(ctx, q.taskKey(taskID), "state").Result()
	if err == nil && State(state) == StatePending {
		return q.MarkRevoked(ctx, taskID)
	}
	return nil
}

// IsCancelled reports whether cancellation was requested.
func (q *Queue) IsCancelled(ctx context.Context, taskID string) bool {
	n, err := q.client.Exists(ctx, q.cancelKey(taskID)).Result()
	return err == nil && n > 0
}

// AddChunksSinceRebuild bumps the counter of chunks embedded since the last
// index rebuild and returns the new total.
func (q *Queue) AddChunksSinceRebuild(ctx context.Context, n int) (int, error) {
	total, err := q.client.IncrBy(ctx, q.prefix+"chunks_since_rebuild", int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump rebuild counter; %w", err)
	}
	return int(total), nil
}

// ResetChunksSinceRebuild zeroes the rebuild counter.
func (q *Queue) ResetChunksSinceRebuild(ctx context.Context) error {
	return q.client.Del(ctx, q.prefix+"chunks_since_rebuild").Err()
}

func (q *Queue) setFields(ctx context.Context, taskID string, pairs ...any) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.taskKey(taskID), pairs...)
	pipe.Expire(ctx, q.taskKey(taskID), q.resultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update task state; %w", err)
	}
	return nil
}
