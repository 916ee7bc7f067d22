// Package background implements the bounded, supervised work queue used for
// fire-and-forget lock release (spec.md §9): a small, fixed-depth queue with
// drop-oldest semantics, never an unbounded detached goroutine per call.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/azsession/cosmosstate/internal/store"
)

// DefaultQueueDepth is used when Config.ReleaseQueueDepth is zero.
const DefaultQueueDepth = 256

// Job describes one queued lock release.
type Job struct {
	SessionID string
	LockID    store.ETag
}

// Queue runs jobs on a single worker goroutine, dropping the oldest queued
// job when full so a burst of releases can never block a caller or grow
// without bound.
type Queue struct {
	jobs   chan Job
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewQueue starts a worker goroutine that calls handle for each submitted
// job, in submission order, until Close is called.
func NewQueue(depth int, handle func(ctx context.Context, job Job)) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		jobs: make(chan Job, depth),
		done: make(chan struct{}),
	}
	go q.run(handle)
	return q
}

func (q *Queue) run(handle func(ctx context.Context, job Job)) {
	defer close(q.done)
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		handle(ctx, job)
		cancel()
	}
}

// Submit enqueues job without blocking. If the queue is full, the oldest
// queued job is dropped to make room — the newest caller's release attempt
// always wins a slot over a release that has been waiting longest, since a
// session that keeps getting re-locked cares most about its latest release.
func (q *Queue) Submit(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- job:
		return
	default:
	}
	// Full: drop the oldest queued job and retry once.
	select {
	case <-q.jobs:
	default:
	}
	select {
	case q.jobs <- job:
	default:
	}
}

// Close stops accepting new jobs and waits for the worker to drain what is
// already queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	<-q.done
}
