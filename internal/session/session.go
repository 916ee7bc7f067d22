// Package session implements the session store API (C5): point read/write
// of session content, admin-level removal, and sliding-expiration lifetime
// extension under a dampening rule that avoids rewriting the content record
// on every single request.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/store"
	"pkt.systems/pslog"
)

// ReadResult is the "stashed resource" handed back by GetSession and threaded
// into ExtendLifetime by the caller (spec.md REDESIGN FLAGS: a per-request
// value, never a hidden map keyed by session id). Found is false when no
// content record exists yet for the session.
type ReadResult struct {
	Found  bool
	Record store.ContentRecord
}

// Config configures a session Service.
type Config struct {
	Backend store.Backend
	Clock   clock.Clock
	Logger  pslog.Logger
}

// Service implements the session store API against a store.Backend.
type Service struct {
	backend store.Backend
	clock   clock.Clock
	logger  pslog.Logger
}

// New constructs a session Service.
func New(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		backend: cfg.Backend,
		clock:   clk,
		logger:  loggingutil.EnsureLogger(cfg.Logger),
	}
}

// GetSession performs a point read of the content record for sessionID. A
// missing record is not an error: ReadResult.Found is false and the caller
// treats the session as new.
func (s *Service) GetSession(ctx context.Context, sessionID string) (ReadResult, error) {
	rec, err := s.backend.ReadContent(ctx, sessionID, store.ConsistencyDefault)
	if err != nil {
		if store.IsNotFound(err) {
			return ReadResult{}, nil
		}
		return ReadResult{}, err
	}
	return ReadResult{Found: true, Record: *rec}, nil
}

// WriteContents unconditionally upserts the content record (spec.md §4.4
// Write). timeout is the host session timeout, stored as whole seconds.
func (s *Service) WriteContents(ctx context.Context, sessionID string, payload []byte, compressed bool, timeout time.Duration, isNew bool) error {
	rec := &store.ContentRecord{
		ID:          sessionID,
		TTLSeconds:  int64(timeout / time.Second),
		CreatedDate: s.clock.Now(),
		Payload:     payload,
		Compressed:  compressed,
		IsNew:       isNew,
	}
	_, err := s.backend.UpsertContent(ctx, rec)
	return err
}

// Remove deletes the content record and the lock record independently. A
// 404 on either is logged and ignored (spec.md §4.4 Remove); any other
// delete error is logged and returned, joined with the other delete's error
// when both fail.
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	var errs []error
	if err := s.backend.DeleteContent(ctx, sessionID); err != nil {
		if store.IsNotFound(err) {
			s.logger.Debug("session.remove.content_not_found", "session_id", sessionID)
		} else {
			s.logger.Error("session.remove.content_error", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}
	// Unconditional delete: Remove holds no lock credential to match against.
	if err := s.backend.DeleteLockIfMatch(ctx, sessionID, ""); err != nil {
		if store.IsNotFound(err) {
			s.logger.Debug("session.remove.lock_not_found", "session_id", sessionID)
		} else {
			s.logger.Error("session.remove.lock_error", "session_id", sessionID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExtendLifetime applies the sliding-expiration dampening rule: the content
// record's CreatedDate is only pushed forward when the remaining lifetime
// has dropped below ttl - ttl/3 (two thirds of the nominal TTL; 40s of a
// 60s ttl), and the replace is
// performed at ConsistencyEventual since losing this particular race only
// costs one extra extension later, not correctness (spec.md §4.4).
//
// prev must be a ReadResult previously returned by GetSession for the same
// sessionID with Found true; any other value is a no-op.
func (s *Service) ExtendLifetime(ctx context.Context, sessionID string, prev ReadResult) error {
	if !prev.Found {
		return nil
	}
	rec := prev.Record
	ttl := time.Duration(rec.TTLSeconds) * time.Second
	if ttl <= 0 {
		return nil
	}
	now := s.clock.Now()
	remaining := rec.CreatedDate.Add(ttl).Sub(now)
	tolerated := ttl - ttl/3
	if remaining >= tolerated {
		return nil
	}

	updated := rec
	updated.CreatedDate = now
	_, err := s.backend.ReplaceContentIfMatch(ctx, &updated, rec.ETag, store.ConsistencyEventual)
	if err != nil {
		if store.IsNotFound(err) || store.IsCASMismatch(err) {
			s.logger.Debug("session.extend.skipped", "session_id", sessionID, "error", err)
			return nil
		}
		return err
	}
	s.logger.Debug("session.extend.ok", "session_id", sessionID)
	return nil
}
