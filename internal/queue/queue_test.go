package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx := context.Background()

	job := Job{ID: "j1", Repository: "acme/widgets", CommitSHA: "abc"}
	require.NoError(t, q.Enqueue(ctx, job))

	delivery, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", delivery.Job.ID)
	assert.NoError(t, q.Ack(ctx, delivery))
	assert.Equal(t, 0, q.Depth())
}

func TestMemoryQueueNackRetriesThenDeadLetters(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{ID: "j1", Repository: "r"}))

	// First failure: attempt 1, requeued.
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d))
	assert.Empty(t, q.DeadLetters())

	// Second failure: budget exhausted, dead-lettered.
	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Job.Attempt)
	require.NoError(t, q.Nack(ctx, d))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "j1", dead[0].ID)
	assert.Equal(t, 0, q.Depth())
}

func TestMemoryQueueReserve(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx := context.Background()

	fresh, err := q.Reserve(ctx, "delivery-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	dup, err := q.Reserve(ctx, "delivery-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, dup)

	// Expired reservations can be taken again.
	expired, err := q.Reserve(ctx, "delivery-2", -time.Second)
	require.NoError(t, err)
	assert.True(t, expired)
	again, err := q.Reserve(ctx, "delivery-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestMemoryQueueRepoLockSerializes(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx := context.Background()

	release, err := q.AcquireRepoLock(ctx, "acme/widgets")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := q.AcquireRepoLock(ctx, "acme/widgets")
		assert.NoError(t, err)
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the lock after release")
	}
}

func TestMemoryQueueDequeueRespectsContext(t *testing.T) {
	q := NewMemoryQueue(3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroSHA(t *testing.T) {
	assert.True(t, zeroSHA("0000000000000000000000000000000000000000"))
	assert.False(t, zeroSHA("1111111111111111111111111111111111111111"))
	assert.False(t, zeroSHA(""))
}
