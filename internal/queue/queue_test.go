package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, "councilkb:", time.Hour)
}

func TestKeyLayout(t *testing.T) {
	q := NewWithClient(nil, "councilkb:", 0)

	assert.Equal(t, "councilkb:tasks", q.listKey())
	assert.Equal(t, "councilkb:processing", q.processingKey())
	assert.Equal(t, "councilkb:task:abc", q.taskKey("abc"))
	assert.Equal(t, "councilkb:cancel:abc", q.cancelKey("abc"))
	assert.Equal(t, "councilkb:", q.Prefix())
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &Task{Kind: KindIngestFolder, FolderID: "folder-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, KindIngestFolder, task.Kind)
	assert.Equal(t, "folder-1", task.FolderID)

	// Delivered, not gone: the payload now sits on the processing list.
	main, err := q.Client().LLen(ctx, q.listKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, main)
	processing, err := q.Client().LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, processing)
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestAckRemovesDelivery(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &Task{Kind: KindRebuildIndex})
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q.Ack(ctx, task))

	processing, err := q.Client().LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, processing)

	reaped, err := q.ReapStale(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestCrashedWorkerTaskIsRedelivered(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &Task{Kind: KindRunPipeline})
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q.MarkStarted(ctx, id))

	// Worker dies here: no terminal mark, no ack. The reaper puts the
	// task back on the main list and the state returns to PENDING.
	reaped, err := q.ReapStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)
}

func TestReapStaleLeavesFreshClaimsAlone(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, &Task{Kind: KindRunPipeline})
	require.NoError(t, err)
	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)

	reaped, err := q.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	processing, err := q.Client().LLen(ctx, q.processingKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, processing)
}

func TestCancelPendingRevokes(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &Task{Kind: KindIngestFolder, FolderID: "f"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, st.State)
	assert.True(t, q.IsCancelled(ctx, id))
}

func TestCancelStartedSetsFlagOnly(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &Task{Kind: KindRunPipeline})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.MarkStarted(ctx, id))

	require.NoError(t, q.Cancel(ctx, id))

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateStarted, st.State)
	assert.True(t, q.IsCancelled(ctx, id))
}

func TestStatusUnknownTask(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Status(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestMarkSuccessStoresResult(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &Task{Kind: KindRebuildIndex})
	require.NoError(t, err)
	require.NoError(t, q.MarkSuccess(ctx, id, map[string]any{"rebuilt": true}))

	st, err := q.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.JSONEq(t, `{"rebuilt":true}`, string(st.Result))
}

func TestChunksSinceRebuildCounter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	n, err := q.AddChunksSinceRebuild(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = q.AddChunksSinceRebuild(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, q.ResetChunksSinceRebuild(ctx))
	n, err = q.AddChunksSinceRebuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
