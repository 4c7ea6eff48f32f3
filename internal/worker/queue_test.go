package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submission_service/pkg/ctxdata"
	"submission_service/pkg/retry"
)

func TestQueue_RunsTasks(t *testing.T) {
	q := New(Config{Workers: 2, Size: 10}, nil)
	q.Start()

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		ok := q.Enqueue(context.Background(), "count", func(context.Context) error {
			count.Add(1)
			return nil
		})
		require.True(t, ok)
	}

	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, int32(5), count.Load())
	assert.Zero(t, q.Failed())
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	q := New(Config{Workers: 1, Size: 1, MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	q.Start()

	var attempts atomic.Int32
	q.Enqueue(context.Background(), "flaky", func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Zero(t, q.Failed())
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	q := New(Config{Workers: 1, Size: 1, MaxRetries: 5, BaseDelay: time.Millisecond}, nil)
	q.Start()

	var attempts atomic.Int32
	q.Enqueue(context.Background(), "bad", func(context.Context) error {
		attempts.Add(1)
		return retry.Permanent(errors.New("bad address"))
	})

	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, int64(1), q.Failed())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := New(Config{Workers: 1, Size: 1}, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	q.Start()

	q.Enqueue(context.Background(), "blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	assert.True(t, q.Enqueue(context.Background(), "buffered", func(context.Context) error { return nil }))
	assert.False(t, q.Enqueue(context.Background(), "overflow", func(context.Context) error { return nil }))
	assert.Equal(t, int64(1), q.Dropped())

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.False(t, q.Enqueue(context.Background(), "late", func(context.Context) error { return nil }))
	assert.Equal(t, int64(2), q.Dropped())
}

func TestQueue_TaskOutlivesRequestContext(t *testing.T) {
	q := New(Config{Workers: 1, Size: 1}, nil)
	q.Start()

	ctx, cancel := context.WithCancel(ctxdata.WithTraceID(context.Background(), "trace-1"))
	got := make(chan string, 1)
	q.Enqueue(ctx, "audit", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return retry.Permanent(err)
		}
		id, _ := ctxdata.GetTraceID(ctx)
		got <- id
		return nil
	})
	cancel()

	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, "trace-1", <-got)
}

func TestQueue_ShutdownHonoursDeadline(t *testing.T) {
	q := New(Config{Workers: 1, Size: 1}, nil)
	q.Start()
	release := make(chan struct{})
	defer close(release)

	q.Enqueue(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
}
