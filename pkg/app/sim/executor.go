package sim

import (
	"context"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Executor is a fixed-size worker pool running one task per bot per tick.
type Executor struct {
	log   *zap.Logger
	tasks chan func()

	mu     sync.RWMutex
	closed bool

	pendMu  sync.Mutex
	idle    *sync.Cond
	pending int // submitted, not yet finished

	workers sync.WaitGroup
}

// NewExecutor starts workers goroutines; zero or less uses the CPU count.
func NewExecutor(workers int, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e := &Executor{
		log:   log,
		tasks: make(chan func(), workers*4),
	}
	e.idle = sync.NewCond(&e.pendMu)
	e.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.workers.Done()
	for task := range e.tasks {
		e.run(task)
	}
}

func (e *Executor) run(task func()) {
	defer e.finish()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("executor task panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	task()
}

func (e *Executor) finish() {
	e.pendMu.Lock()
	e.pending--
	if e.pending == 0 {
		e.idle.Broadcast()
	}
	e.pendMu.Unlock()
}

// Submit queues task. It returns false once the executor is shut down; the
// task is then not run.
func (e *Executor) Submit(task func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.pendMu.Lock()
	e.pending++
	e.pendMu.Unlock()
	e.tasks <- task
	return true
}

// Wait blocks until no task is queued or running.
func (e *Executor) Wait() {
	e.pendMu.Lock()
	for e.pending > 0 {
		e.idle.Wait()
	}
	e.pendMu.Unlock()
}

// Shutdown stops accepting tasks and waits for queued and in-flight tasks to
// finish. Tasks are never interrupted; if ctx ends first the workers keep
// draining in the background and ctx's error is returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "executor drain")
	}
}
