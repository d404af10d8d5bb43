// Package queue is an in-process, at-least-once side-effect dispatcher. It
// decouples non-critical writes (audit log, analytics, notifications) from
// the pulse ingestion path: enqueueing never blocks and never fails the
// caller, and a failing handler cannot stall the consumer.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"fieldpulse/internal/logging"
)

type Handler func(ctx context.Context, job Job) error

type Job struct {
	ID         uuid.UUID
	Kind       string
	Payload    any
	EnqueuedAt time.Time
	Attempts   int
}

type Queue struct {
	log   *logging.Logger
	clock quartz.Clock
	jobs  chan Job

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool

	maxAttempts   int
	retryInterval time.Duration
}

func New(capacity int, log *logging.Logger, clock quartz.Clock) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Queue{
		log:           log.Component("queue"),
		clock:         clock,
		jobs:          make(chan Job, capacity),
		handlers:      map[string]Handler{},
		maxAttempts:   3,
		retryInterval: 500 * time.Millisecond,
	}
}

// RegisterHandler binds a handler for a job kind. The first registration
// wins; re-registering the same kind is a logged no-op.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[kind]; ok {
		q.log.Warnf("handler for %q already registered, keeping the first", kind)
		return
	}
	q.handlers[kind] = h
}

// Enqueue appends a job and returns immediately. On overflow the job is
// logged and dropped: these are non-critical side effects, not the source
// of truth for presence.
func (q *Queue) Enqueue(kind string, payload any) {
	job := Job{ID: uuid.New(), Kind: kind, Payload: payload, EnqueuedAt: q.clock.Now()}
	select {
	case q.jobs <- job:
	default:
		q.log.Warnf("full, dropping %s job %s", kind, job.ID)
	}
}

// Start launches the single background consumer. Subsequent calls are
// no-ops. The consumer stops when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		q.log.Warnf("worker already started")
		return
	}
	q.started = true
	q.mu.Unlock()
	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.dispatch(ctx, job)
		}
	}
}

// Flush drains everything currently queued on the caller's goroutine.
// Used at shutdown and in tests.
func (q *Queue) Flush(ctx context.Context) {
	for {
		select {
		case job := <-q.jobs:
			q.dispatch(ctx, job)
		default:
			return
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, job Job) {
	q.mu.Lock()
	h, ok := q.handlers[job.Kind]
	q.mu.Unlock()
	if !ok {
		q.log.Warnf("no handler for %s job %s, dropping", job.Kind, job.ID)
		return
	}

	// Backoff computes the intervals; the waits go through the injected
	// clock so retry timing is testable and deterministic.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.retryInterval
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	for {
		job.Attempts++
		err := q.invoke(ctx, h, job)
		if err == nil {
			q.log.Debugf("%s job %s done in %s", job.Kind, job.ID, q.clock.Since(job.EnqueuedAt))
			return
		}
		if job.Attempts >= q.maxAttempts {
			q.log.Errorf("%s job %s failed after %d attempts: %v", job.Kind, job.ID, job.Attempts, err)
			return
		}
		tmr := q.clock.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			tmr.Stop()
			q.log.Warnf("%s job %s abandoned mid-retry: %v", job.Kind, job.ID, ctx.Err())
			return
		case <-tmr.C:
		}
	}
}

// invoke isolates handler panics so one bad job cannot kill the consumer.
func (q *Queue) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
