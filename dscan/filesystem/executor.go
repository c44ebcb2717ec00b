package filesystem

import (
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// Executor runs deferred units of work. The scanner schedules every shard
// but the last on it and sizes nothing itself; NumWorkers is the capacity
// hint the shard plan was built for.
type Executor interface {
	Schedule(task func())
	NumWorkers() int
}

// WorkerPool is a long-lived, bounded Executor backed by a conc pool.
// Schedule blocks only while every worker is busy.
type WorkerPool struct {
	workers int
	pool    *pool.Pool

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool creates a pool with n workers; n <= 0 uses runtime.NumCPU().
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &WorkerPool{
		workers: n,
		pool:    pool.New().WithMaxGoroutines(n),
	}
}

// Schedule submits task to the pool. After Close, tasks run on the caller.
// Schedule must not race with Close.
func (wp *WorkerPool) Schedule(task func()) {
	wp.mu.Lock()
	closed := wp.closed
	wp.mu.Unlock()
	if closed {
		task()
		return
	}
	wp.pool.Go(task)
}

// NumWorkers returns the pool size.
func (wp *WorkerPool) NumWorkers() int { return wp.workers }

// Close waits for every submitted task and stops the workers.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	wp.mu.Unlock()
	wp.pool.Wait()
}

// InlineExecutor runs every task synchronously on the calling goroutine.
// Scans on it are single-threaded and deterministic.
type InlineExecutor struct{}

// Schedule runs task immediately.
func (InlineExecutor) Schedule(task func()) { task() }

// NumWorkers reports a single worker.
func (InlineExecutor) NumWorkers() int { return 1 }
