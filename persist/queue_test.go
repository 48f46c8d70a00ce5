package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newQueue(t *testing.T, attempts int) *Queue {
	t.Helper()
	q := New(config.PersistConfig{Workers: 4, QueueSize: 16, MaxAttempts: attempts, Backoff: time.Millisecond}, zap.NewNop())
	t.Cleanup(q.Stop)
	return q
}

func TestQueue_RunsAndWaits(t *testing.T) {
	q := newQueue(t, 1)
	var ran atomic.Bool
	task := q.Enqueue("vault.1", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, task.Wait(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueue_SameKeyKeepsOrder(t *testing.T) {
	q := newQueue(t, 1)
	var mu sync.Mutex
	var seen []int
	var last *Task
	for i := 0; i < 50; i++ {
		i := i
		last = q.Enqueue("char.1.1", func(ctx context.Context) error {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, last.Wait(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	q := newQueue(t, 3)
	var calls atomic.Int32
	task := q.Enqueue("k", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})
	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueue_GivesUpAfterMaxAttempts(t *testing.T) {
	q := newQueue(t, 2)
	boom := errors.New("boom")
	var calls atomic.Int32
	task := q.Enqueue("k", func(ctx context.Context) error {
		calls.Add(1)
		return boom
	})
	assert.ErrorIs(t, task.Wait(context.Background()), boom)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	q := newQueue(t, 5)
	boom := errors.New("lease lost")
	var calls atomic.Int32
	task := q.Enqueue("k", func(ctx context.Context) error {
		calls.Add(1)
		return Permanent(boom)
	})
	assert.ErrorIs(t, task.Wait(context.Background()), boom)
	assert.Equal(t, int32(1), calls.Load())
}

func TestQueue_StopDrainsAndRejects(t *testing.T) {
	q := New(config.PersistConfig{Workers: 1, QueueSize: 8, MaxAttempts: 1}, zap.NewNop())
	var n atomic.Int32
	var tasks []*Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, q.Enqueue("k", func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			n.Add(1)
			return nil
		}))
	}
	q.Stop()
	assert.Equal(t, int32(5), n.Load())
	for _, task := range tasks {
		assert.NoError(t, task.Wait(context.Background()))
	}
	late := q.Enqueue("k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, late.Wait(context.Background()), ErrStopped)
	q.Stop()
}
