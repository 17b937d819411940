// Package executor provides named single-worker task queues. Each queue
// serializes its tasks, keeping storage writes and exports off caller
// goroutines without unbounded fan-out.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueDepth bounds each queue. Submissions beyond this are
// rejected rather than blocking the caller.
const DefaultQueueDepth = 256

// Task is a unit of work run on an executor worker.
type Task func(ctx context.Context) error

// Executor runs tasks one at a time, in submission order.
type Executor struct {
	name  string
	tasks chan submission
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders submissions against close: every enqueue happens under
	// the read lock, so once Shutdown flips closed under the write lock
	// the drain loop sees every accepted task.
	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
}

type submission struct {
	task Task
	done chan error
}

// New creates and starts a named executor with the default queue depth.
func New(name string, log *zap.Logger) *Executor {
	return NewWithDepth(name, DefaultQueueDepth, log)
}

// NewWithDepth creates and starts a named executor with a custom depth.
func NewWithDepth(name string, depth int, log *zap.Logger) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:   name,
		tasks:  make(chan submission, depth),
		log:    log.With(zap.String("executor", name)),
		ctx:    ctx,
		cancel: cancel,
	}

	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Executor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			// Drain what was already accepted so queued writes land.
			for {
				select {
				case sub := <-e.tasks:
					e.execute(context.Background(), sub)
				default:
					return
				}
			}
		case sub := <-e.tasks:
			e.execute(e.ctx, sub)
		}
	}
}

func (e *Executor) execute(ctx context.Context, sub submission) {
	start := time.Now()
	err := sub.task(ctx)
	if err != nil {
		e.log.Warn("task failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	if sub.done != nil {
		sub.done <- err
	}
}

// Submit enqueues a task without waiting for it. Returns false if the
// queue is full or the executor is shut down; the task is dropped.
// A true return means the task will run: tasks accepted before Shutdown
// are drained by the worker before it exits.
func (e *Executor) Submit(task Task) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}

	select {
	case e.tasks <- submission{task: task}:
		return true
	default:
		e.log.Warn("queue full, task dropped")
		return false
	}
}

// SubmitWait enqueues a task and blocks until it completes, returning
// its error. Used on the crash path where work must finish before the
// process dies. After Shutdown the task runs inline on the caller.
func (e *Executor) SubmitWait(task Task) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return task(context.Background())
	}

	done := make(chan error, 1)
	e.tasks <- submission{task: task, done: done}
	e.mu.RUnlock()

	// The send happened before closed flipped, so the worker is
	// guaranteed to reach this submission even mid-shutdown.
	return <-done
}

// Shutdown stops accepting new tasks, runs what is already queued, and
// waits for the worker to exit or the context to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
	})

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
