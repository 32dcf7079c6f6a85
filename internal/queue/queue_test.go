package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jpl-au/memd/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastOpts keeps retry cycles short enough for tests.
func fastOpts() queue.Options {
	return queue.Options{
		MaxRetries:   2,
		Visibility:   20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
}

// factories runs a subtest against both queue backends.
func factories(t *testing.T, fn func(t *testing.T, f queue.Factory)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, queue.NewMemoryFactory())
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		f := queue.NewRedisFactory(mr.Addr())
		t.Cleanup(func() { f.Close() })
		fn(t, f)
	})
}

// drain connects a consumer that records every delivered payload.
func drain(t *testing.T, ctx context.Context, f queue.Factory, name string, opts queue.Options) (*sync.Map, func() int) {
	t.Helper()
	var seen sync.Map
	var count int64

	q, err := f.Connect(ctx, name, opts)
	require.NoError(t, err)
	q.OnDequeue(func(_ context.Context, payload []byte) error {
		seen.Store(string(payload), true)
		atomic.AddInt64(&count, 1)
		return nil
	})
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { q.Close() })

	return &seen, func() int { return int(atomic.LoadInt64(&count)) }
}

func TestEnqueueDequeue(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		seen, count := drain(t, ctx, f, "work", fastOpts())

		q, err := f.Connect(ctx, "work", fastOpts())
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, []byte("m1")))
		require.NoError(t, q.Enqueue(ctx, []byte("m2")))

		require.Eventually(t, func() bool { return count() == 2 }, 2*time.Second, 10*time.Millisecond)
		_, ok := seen.Load("m1")
		assert.True(t, ok)
		_, ok = seen.Load("m2")
		assert.True(t, ok)
	})
}

func TestRedeliveryAfterNack(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls int64
		q, err := f.Connect(ctx, "flaky", fastOpts())
		require.NoError(t, err)
		q.OnDequeue(func(_ context.Context, payload []byte) error {
			if atomic.AddInt64(&calls, 1) == 1 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, q.Start(ctx))
		defer q.Close()

		require.NoError(t, q.Enqueue(ctx, []byte("msg")))

		// First delivery fails, second succeeds after the lock window.
		require.Eventually(t, func() bool { return atomic.LoadInt64(&calls) >= 2 }, 3*time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.EqualValues(t, 2, atomic.LoadInt64(&calls), "acked message must not be redelivered")
	})
}

func TestPoisonAfterMaxRetries(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		opts := fastOpts() // MaxRetries=2: first delivery + 2 retries, then poison

		var calls int64
		q, err := f.Connect(ctx, "doomed", opts)
		require.NoError(t, err)
		q.OnDequeue(func(_ context.Context, _ []byte) error {
			atomic.AddInt64(&calls, 1)
			return errors.New("always fails")
		})
		require.NoError(t, q.Start(ctx))
		defer q.Close()

		poisoned, poisonCount := drain(t, ctx, f, "doomed"+queue.PoisonSuffix, opts)

		require.NoError(t, q.Enqueue(ctx, []byte("bad")))

		require.Eventually(t, func() bool { return poisonCount() == 1 }, 5*time.Second, 10*time.Millisecond)
		_, ok := poisoned.Load("bad")
		assert.True(t, ok, "original payload lands on the poison queue")
		assert.EqualValues(t, 3, atomic.LoadInt64(&calls), "first delivery plus MaxRetries redeliveries")

		// The poisoned message is gone from the main queue.
		time.Sleep(100 * time.Millisecond)
		assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
	})
}

func TestStartRequiresHandler(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx := context.Background()
		q, err := f.Connect(ctx, "idle", fastOpts())
		require.NoError(t, err)
		assert.ErrorIs(t, q.Start(ctx), queue.ErrNoHandler)
	})
}

func TestConnectReturnsSameQueue(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx := context.Background()
		a, err := f.Connect(ctx, "q", fastOpts())
		require.NoError(t, err)
		b, err := f.Connect(ctx, "q", fastOpts())
		require.NoError(t, err)
		assert.Same(t, a, b)
	})
}

func TestEnqueueAfterClose(t *testing.T) {
	factories(t, func(t *testing.T, f queue.Factory) {
		ctx := context.Background()
		q, err := f.Connect(ctx, "closing", fastOpts())
		require.NoError(t, err)
		require.NoError(t, q.Close())
		assert.ErrorIs(t, q.Enqueue(ctx, []byte("x")), queue.ErrClosed)
	})
}

func TestMemoryEnqueueWithoutConsumerBuffers(t *testing.T) {
	f := queue.NewMemoryFactory()
	ctx := context.Background()

	q, err := f.Connect(ctx, "buffered", fastOpts())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, []byte("x")))
	}
	assert.Equal(t, 10, q.(*queue.Memory).Len())
}
