package store

import (
	"context"
	"time"
)

// Backend is the storage contract the lock protocol (C4) and session store
// API (C5) are built against. A real implementation lives in
// internal/store/cosmos; internal/store/memory provides an in-memory
// emulator with identical CAS semantics for tests.
type Backend interface {
	// Bootstrap idempotently provisions the database, container, indexing
	// policy, default TTL, and the conflict-arbitration stored script
	// (spec.md §4.2). It tolerates all resources already existing.
	Bootstrap(ctx context.Context) error

	// ReadContent performs a point read of the content record for id at the
	// requested consistency level. Returns ErrNotFound when absent.
	ReadContent(ctx context.Context, id string, level ConsistencyLevel) (*ContentRecord, error)

	// UpsertContent writes rec unconditionally (spec.md §4.4 Write). The
	// server response body is suppressed; callers get rec's new ETag back.
	UpsertContent(ctx context.Context, rec *ContentRecord) (ETag, error)

	// ReplaceContentIfMatch conditionally replaces rec using If-Match at
	// the requested consistency level; used only by the sliding-expiration
	// dampening rule (spec.md §4.4), always with ConsistencyEventual.
	// Returns ErrCASMismatch or ErrNotFound when the condition fails.
	ReplaceContentIfMatch(ctx context.Context, rec *ContentRecord, expected ETag, level ConsistencyLevel) (ETag, error)

	// DeleteContent removes the content record for id. ErrNotFound is
	// tolerated by the caller (spec.md §4.4 Remove).
	DeleteContent(ctx context.Context, id string) error

	// CreateLockIfAbsent is Phase 1 of lock acquisition (spec.md §4.3): an
	// optimistic point insert. Returns ErrConflict on a primary-key
	// collision (HTTP 409), meaning the lock is already held.
	CreateLockIfAbsent(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*LockRecord, error)

	// TryLock is Phase 2: the conflict-arbitration stored script executed
	// as a serializable transaction in the session's partition. It returns
	// locked=false with the current holder's record when contended.
	TryLock(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (locked bool, rec *LockRecord, err error)

	// DeleteLockIfMatch deletes the lock record for sessionID using
	// If-Match=expected. An empty expected performs an unconditional
	// delete (used by admin-level Remove, which holds no credential).
	// ErrNotFound is tolerated (TTL self-heal already reclaimed it); a
	// non-empty mismatched expected leaves the lock intact and is
	// reported as ErrCASMismatch, never as a delete.
	DeleteLockIfMatch(ctx context.Context, sessionID string, expected ETag) error

	// Close releases backend resources.
	Close() error
}
