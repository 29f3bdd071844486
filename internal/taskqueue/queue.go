// Package taskqueue is the in-process task queue that fans signal work out
// to per-bot handlers. Tasks carry opaque JSON payloads; handlers opt into
// retries by returning a Retryable error.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"regime-trading-bot/internal/logging"
)

// Task names.
const (
	TaskOrderArm    = "order:arm"
	TaskOrderDisarm = "order:disarm"
)

// Handler processes one task payload. A nil return completes the task; a
// Retryable error re-enqueues it up to the attempt limit; any other error
// drops it.
type Handler func(ctx context.Context, payload []byte) error

// Queue accepts named tasks for asynchronous execution.
type Queue interface {
	Register(name string, h Handler)
	Enqueue(ctx context.Context, name string, payload []byte) error
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks an error as transient so the queue retries the task.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err carries the retry marker.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("task queue closed")

type task struct {
	id      string
	name    string
	payload []byte
	attempt int
}

// InProc is a bounded in-process queue with a fixed worker pool and
// capped-backoff retries.
type InProc struct {
	log         *logging.Logger
	workers     int
	maxAttempts int
	baseBackoff time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	// tasks is never closed: shutdown is signalled on done so an Enqueue
	// racing Stop can never send on a closed channel.
	tasks chan task
	done  chan struct{}
	wg    sync.WaitGroup
}

var _ Queue = (*InProc)(nil)

// NewInProc creates a queue. Start must be called before tasks execute.
func NewInProc(workers, maxAttempts int, log *logging.Logger) *InProc {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &InProc{
		log:         log.WithComponent("taskqueue"),
		workers:     workers,
		maxAttempts: maxAttempts,
		baseBackoff: 250 * time.Millisecond,
		handlers:    make(map[string]Handler),
		tasks:       make(chan task, 256),
		done:        make(chan struct{}),
	}
}

// Register binds a handler to a task name. Must happen before Start.
func (q *InProc) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue submits a task. Blocks if the queue is full. Safe to call
// concurrently with Stop; a task racing shutdown either lands before the
// final drain or gets ErrQueueClosed.
func (q *InProc) Enqueue(ctx context.Context, name string, payload []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	q.mu.RLock()
	_, known := q.handlers[name]
	q.mu.RUnlock()
	if !known {
		return fmt.Errorf("no handler registered for task %q", name)
	}

	t := task{id: uuid.NewString(), name: name, payload: payload, attempt: 1}
	select {
	case q.tasks <- t:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled and
// the task channel drains.
func (q *InProc) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop rejects new tasks and waits for in-flight work.
func (q *InProc) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *InProc) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case t := <-q.tasks:
			q.run(ctx, t)
		case <-q.done:
			// drain whatever made it in before shutdown
			for {
				select {
				case t := <-q.tasks:
					q.run(ctx, t)
				default:
					return
				}
			}
		}
	}
}

func (q *InProc) run(ctx context.Context, t task) {
	q.mu.RLock()
	h := q.handlers[t.name]
	q.mu.RUnlock()
	if h == nil {
		return
	}

	err := h(ctx, t.payload)
	if err == nil {
		return
	}

	log := q.log.WithField("task_id", t.id).WithField("task", t.name)
	if !IsRetryable(err) {
		log.Error("task failed", "attempt", t.attempt, "error", err)
		return
	}
	if t.attempt >= q.maxAttempts {
		log.Error("task exhausted retries", "attempts", t.attempt, "error", err)
		return
	}

	backoff := q.baseBackoff << (t.attempt - 1)
	if backoff > 5*time.Second {
		backoff = 5 * time.Second
	}
	log.Warn("task retrying", "attempt", t.attempt, "backoff_ms", backoff.Milliseconds(), "error", err)

	t.attempt++
	q.wg.Add(1)
	go func(t task) {
		defer q.wg.Done()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		select {
		case <-q.done:
			return
		default:
		}
		q.run(ctx, t)
	}(t)
}
