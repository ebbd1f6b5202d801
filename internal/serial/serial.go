// Package serial runs tasks one at a time per key while distinct keys proceed
// in parallel. Tasks for the same key run in submission order.
package serial

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var ErrClosed = errors.New("serial: executor is closed")

type Executor struct {
	logger *slog.Logger

	mu     sync.Mutex
	queues map[int64][]func()
	closed bool
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Executor {
	return &Executor{
		logger: logger,
		queues: make(map[int64][]func()),
	}
}

// Submit queues fn behind any task already pending for key. A worker for the
// key is started on demand and exits once its queue drains.
func (e *Executor) Submit(key int64, fn func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	q, running := e.queues[key]
	e.queues[key] = append(q, fn)
	e.wg.Add(1)
	if !running {
		go e.drain(key)
	}
	return nil
}

func (e *Executor) drain(key int64) {
	for {
		e.mu.Lock()
		q := e.queues[key]
		if len(q) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		e.queues[key] = q[1:]
		e.mu.Unlock()

		e.run(key, fn)
		e.wg.Done()
	}
}

func (e *Executor) run(key int64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				slog.Int64("key", key),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

// Active reports how many keys currently have queued or running work.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues)
}

// Close refuses new work and waits for everything already queued.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
