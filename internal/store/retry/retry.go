// Package retry implements the Phase-2 retry policy (C7, spec.md §4.3): up
// to three retries on errors marked transient, with randomized back-off
// sampled uniformly from 10–50ms, plus a generic decorator for wrapping an
// entire store.Backend against transient errors.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/store"
	"pkt.systems/pslog"
)

// Policy controls attempt count and back-off. MaxAttempts counts the total
// number of calls to fn, including the first: Phase 2's "three retries"
// means MaxAttempts=4.
type Policy struct {
	MaxAttempts int
	JitterMin   time.Duration
	JitterMax   time.Duration
	IsRetryable func(error) bool
}

// Phase2Policy is the policy for the conflict-arbitration script: one
// attempt plus three retries, 10–50ms jitter, retrying any error for which
// store.IsTransient holds. The Cosmos backend marks HTTP 400/409 and 449/0
// transient, but also HTTP 429 and errors that carry no HTTP response, so
// those are retried here too, not only the two script statuses.
func Phase2Policy() Policy {
	return Policy{
		MaxAttempts: 4,
		JitterMin:   10 * time.Millisecond,
		JitterMax:   50 * time.Millisecond,
		IsRetryable: store.IsTransient,
	}
}

// Do runs fn according to policy, sleeping a random jitter duration between
// attempts via clk. The fourth (final) attempt always runs without further
// retry regardless of its outcome, matching spec.md §4.3.
func Do(clk clock.Clock, policy Policy, fn func(attempt int) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	retryable := policy.IsRetryable
	if retryable == nil {
		retryable = store.IsTransient
	}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts || !retryable(err) {
			return err
		}
		clk.Sleep(jitter(policy.JitterMin, policy.JitterMax))
	}
	return lastErr
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// Wrap returns a store.Backend that retries transient errors on every
// operation according to policy. It is a generic safety net; the lock
// protocol's Phase-2 retry (spec.md §4.3) is driven directly by Do with
// Phase2Policy so its narrower retryable-status rule is not diluted by a
// blanket wrapper.
func Wrap(inner store.Backend, logger pslog.Logger, clk clock.Clock, policy Policy) store.Backend {
	if inner == nil {
		return nil
	}
	return &wrapped{inner: inner, logger: loggingutil.EnsureLogger(logger), clock: clk, policy: policy}
}

type wrapped struct {
	inner  store.Backend
	logger pslog.Logger
	clock  clock.Clock
	policy Policy
}

func (w *wrapped) Bootstrap(ctx context.Context) error {
	return w.run("bootstrap", func() error { return w.inner.Bootstrap(ctx) })
}

func (w *wrapped) ReadContent(ctx context.Context, id string, level store.ConsistencyLevel) (*store.ContentRecord, error) {
	var rec *store.ContentRecord
	err := w.run("read_content", func() error {
		var err error
		rec, err = w.inner.ReadContent(ctx, id, level)
		return err
	})
	return rec, err
}

func (w *wrapped) UpsertContent(ctx context.Context, rec *store.ContentRecord) (store.ETag, error) {
	var etag store.ETag
	err := w.run("upsert_content", func() error {
		var err error
		etag, err = w.inner.UpsertContent(ctx, rec)
		return err
	})
	return etag, err
}

func (w *wrapped) ReplaceContentIfMatch(ctx context.Context, rec *store.ContentRecord, expected store.ETag, level store.ConsistencyLevel) (store.ETag, error) {
	var etag store.ETag
	err := w.run("replace_content", func() error {
		var err error
		etag, err = w.inner.ReplaceContentIfMatch(ctx, rec, expected, level)
		return err
	})
	return etag, err
}

func (w *wrapped) DeleteContent(ctx context.Context, id string) error {
	return w.run("delete_content", func() error { return w.inner.DeleteContent(ctx, id) })
}

func (w *wrapped) CreateLockIfAbsent(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	var rec *store.LockRecord
	err := w.run("create_lock", func() error {
		var err error
		rec, err = w.inner.CreateLockIfAbsent(ctx, sessionID, ttl, now)
		return err
	})
	return rec, err
}

func (w *wrapped) TryLock(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (bool, *store.LockRecord, error) {
	var (
		locked bool
		rec    *store.LockRecord
	)
	err := w.run("try_lock", func() error {
		var err error
		locked, rec, err = w.inner.TryLock(ctx, sessionID, ttl, now)
		return err
	})
	return locked, rec, err
}

func (w *wrapped) DeleteLockIfMatch(ctx context.Context, sessionID string, expected store.ETag) error {
	return w.run("delete_lock", func() error { return w.inner.DeleteLockIfMatch(ctx, sessionID, expected) })
}

func (w *wrapped) Close() error {
	return w.inner.Close()
}

func (w *wrapped) run(op string, fn func() error) error {
	return Do(w.clock, w.policy, func(attempt int) error {
		if attempt > 1 {
			w.logger.Warn("storage transient error", "operation", op, "attempt", attempt)
		}
		return fn()
	})
}
