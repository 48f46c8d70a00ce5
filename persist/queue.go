// Package persist is the write-behind queue that carries in-memory state
// changes (vault chests, character inventories) to the record store.
//
// Tasks sharing a key run in submission order on the same worker. A task
// that fails is retried with a linear backoff up to MaxAttempts and its
// final error is logged and kept on the Task for callers that Wait.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kasuganosora/realmcore/config"
	"go.uber.org/zap"
)

// ErrStopped is returned by tasks enqueued after Stop.
var ErrStopped = errors.New("persist queue stopped")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// Func is one unit of persistence work.
type Func func(ctx context.Context) error

// Task is the handle of an enqueued Func.
type Task struct {
	Key  string
	fn   Func
	done chan struct{}
	err  error
}

func newTask(key string, fn Func) *Task {
	return &Task{Key: key, fn: fn, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue runs Funcs on a fixed set of workers.
type Queue struct {
	workers     []chan *Task
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	logger      *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts a Queue configured by cfg.
func New(cfg config.PersistConfig, logger *zap.Logger) *Queue {
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	q := &Queue{
		workers:     make([]chan *Task, n),
		maxAttempts: attempts,
		backoff:     cfg.Backoff,
		timeout:     5 * time.Second,
		logger:      logger,
	}
	for i := range q.workers {
		ch := make(chan *Task, size)
		q.workers[i] = ch
		q.wg.Add(1)
		go q.loop(ch)
	}
	return q
}

// Enqueue schedules fn. Tasks with the same key run in order. Enqueue only
// blocks when the key's worker backlog is full.
func (q *Queue) Enqueue(key string, fn Func) *Task {
	t := newTask(key, fn)
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		t.finish(ErrStopped)
		return t
	}
	ch := q.workers[xxhash.Sum64String(key)%uint64(len(q.workers))]
	select {
	case ch <- t:
	default:
		q.logger.Warn("persist backlog full, waiting", zap.String("key", key))
		ch <- t
	}
	return t
}

// Stop refuses new tasks and waits for queued ones to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, ch := range q.workers {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) loop(ch chan *Task) {
	defer q.wg.Done()
	for t := range ch {
		t.finish(q.run(t))
	}
}

func (q *Queue) run(t *Task) error {
	var err error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err = t.fn(ctx)
		cancel()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			break
		}
		if attempt < q.maxAttempts {
			q.logger.Warn("persist attempt failed",
				zap.String("key", t.Key), zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(q.backoff * time.Duration(attempt))
		}
	}
	q.logger.Error("persist failed", zap.String("key", t.Key), zap.Error(err))
	return err
}
