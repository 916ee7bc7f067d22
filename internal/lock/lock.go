// Package lock implements the distributed lock protocol (C4): two-phase
// acquisition (optimistic insert, then a pessimistic conflict-arbitration
// script with retry), ETag-conditional release, and TTL-based self-heal.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/azsession/cosmosstate/internal/background"
	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/store"
	"github.com/azsession/cosmosstate/internal/store/retry"
	"pkt.systems/pslog"
)

// AcquireResult reports the outcome of Acquire. When Taken is false,
// LockDate and LockID describe the current holder, not the caller.
type AcquireResult struct {
	Taken    bool
	LockDate time.Time
	LockID   store.ETag
}

// Service implements the lock protocol against a store.Backend.
type Service struct {
	backend store.Backend
	clock   clock.Clock
	logger  pslog.Logger
	ttl     time.Duration
	release *background.Queue
}

// Config configures a lock Service.
type Config struct {
	Backend store.Backend
	Clock   clock.Clock
	Logger  pslog.Logger
	// TTLSeconds is xLockTtlSeconds from spec.md §6 (default 30). No key in
	// this module carries the leading "x".
	TTLSeconds int
	// ReleaseQueueDepth bounds the fire-and-forget release worker's queue
	// (spec.md §9, drop-oldest when full). Zero uses the package default.
	ReleaseQueueDepth int
}

// New constructs a lock Service and starts its background release worker.
func New(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := loggingutil.EnsureLogger(cfg.Logger)
	s := &Service{
		backend: cfg.Backend,
		clock:   clk,
		logger:  logger,
		ttl:     ttl,
	}
	s.release = background.NewQueue(cfg.ReleaseQueueDepth, func(ctx context.Context, job background.Job) {
		s.doRelease(ctx, job)
	})
	return s
}

// TTL returns the configured lock TTL.
func (s *Service) TTL() time.Duration { return s.ttl }

// Acquire never blocks on a contended lock: it returns Taken=false with the
// current holder's ETag and creation date when contended (spec.md §4.3).
func (s *Service) Acquire(ctx context.Context, sessionID string) (AcquireResult, error) {
	now := s.clock.Now()

	// Phase 1 — optimistic insert. Run on a context that ignores outer
	// cancellation: once this insert lands, the function must complete
	// (spec.md §5) rather than leave a lock the caller never learns about.
	insertCtx := context.WithoutCancel(ctx)
	rec, err := s.backend.CreateLockIfAbsent(insertCtx, sessionID, s.ttl, now)
	switch {
	case err == nil:
		return AcquireResult{Taken: true, LockDate: now, LockID: rec.ETag}, nil
	case store.IsConflict(err):
		// fall through to Phase 2
	default:
		return AcquireResult{}, fmt.Errorf("lock: phase 1 insert: %w", err)
	}

	var (
		locked bool
		script *store.LockRecord
	)
	retryErr := retry.Do(s.clock, retry.Phase2Policy(), func(attempt int) error {
		var terr error
		locked, script, terr = s.backend.TryLock(ctx, sessionID, s.ttl, s.clock.Now())
		return terr
	})
	if retryErr != nil {
		return AcquireResult{}, fmt.Errorf("lock: phase 2 script: %w", retryErr)
	}
	if locked {
		return AcquireResult{Taken: true, LockDate: script.CreatedDate, LockID: script.ETag}, nil
	}
	return AcquireResult{Taken: false, LockDate: script.CreatedDate, LockID: script.ETag}, nil
}

// Release is best-effort and fire-and-forget: it schedules the delete onto
// the bounded background queue and returns immediately (spec.md §4.3). A
// failed or not-found delete is logged and never surfaced to the caller.
func (s *Service) Release(sessionID string, lockID store.ETag) {
	s.release.Submit(background.Job{SessionID: sessionID, LockID: lockID})
}

// Close stops the background release worker, flushing any queued releases
// it can complete before returning.
func (s *Service) Close() error {
	s.release.Close()
	return nil
}

func (s *Service) doRelease(ctx context.Context, job background.Job) {
	err := s.backend.DeleteLockIfMatch(ctx, job.SessionID, job.LockID)
	switch {
	case err == nil:
		s.logger.Debug("lock.release.ok", "session_id", job.SessionID)
	case store.IsNotFound(err):
		// The lock self-healed via TTL before the release landed.
		s.logger.Warn("lock.release.not_found", "session_id", job.SessionID)
	case store.IsCASMismatch(err):
		// Wrong credential: the lock is held by someone else now. Leave it.
		s.logger.Warn("lock.release.etag_mismatch", "session_id", job.SessionID)
	default:
		s.logger.Warn("lock.release.error", "session_id", job.SessionID, "error", err)
	}
}
