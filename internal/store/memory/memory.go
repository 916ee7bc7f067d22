// Package memory implements an in-memory emulator of the Cosmos DB backend
// contract (store.Backend), used for fast unit tests and to exercise every
// invariant in spec.md §8 without a live Cosmos account. It mirrors the
// CAS/TTL semantics a real container provides, including lazy TTL expiry
// checked against an injectable clock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/store"
	"github.com/google/uuid"
)

// Store is an in-memory store.Backend emulator.
type Store struct {
	mu       sync.Mutex
	contents map[string]*contentEntry
	locks    map[string]*lockEntry
	clock    clock.Clock
}

type contentEntry struct {
	rec  store.ContentRecord
	etag store.ETag
}

type lockEntry struct {
	rec  store.LockRecord
	etag store.ETag
}

// New returns a ready-to-use in-memory backend using the real wall clock.
func New() *Store {
	return NewWithClock(clock.Real{})
}

// NewWithClock returns an in-memory backend whose TTL expiry checks are
// driven by clk, for deterministic self-heal tests.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		contents: make(map[string]*contentEntry),
		locks:    make(map[string]*lockEntry),
		clock:    clk,
	}
}

// Bootstrap is a no-op: an in-memory map needs no database/container/script
// provisioning.
func (s *Store) Bootstrap(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func newETag() store.ETag {
	return store.ETag(uuid.NewString())
}

func expired(createdDate time.Time, ttlSeconds int64, now time.Time) bool {
	if ttlSeconds <= 0 {
		return false
	}
	return !now.Before(createdDate.Add(time.Duration(ttlSeconds) * time.Second))
}

func (s *Store) ReadContent(_ context.Context, id string, _ store.ConsistencyLevel) (*store.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.contents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := s.clock.Now()
	if expired(entry.rec.CreatedDate, entry.rec.TTLSeconds, now) {
		delete(s.contents, id)
		return nil, store.ErrNotFound
	}
	rec := entry.rec
	rec.ETag = entry.etag
	return &rec, nil
}

func (s *Store) UpsertContent(_ context.Context, rec *store.ContentRecord) (store.ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	etag := newETag()
	stored := *rec
	stored.ETag = etag
	s.contents[rec.ID] = &contentEntry{rec: stored, etag: etag}
	return etag, nil
}

func (s *Store) ReplaceContentIfMatch(_ context.Context, rec *store.ContentRecord, expected store.ETag, _ store.ConsistencyLevel) (store.ETag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.contents[rec.ID]
	if !ok {
		return "", store.ErrNotFound
	}
	now := s.clock.Now()
	if expired(entry.rec.CreatedDate, entry.rec.TTLSeconds, now) {
		delete(s.contents, rec.ID)
		return "", store.ErrNotFound
	}
	if entry.etag != expected {
		return "", store.ErrCASMismatch
	}
	etag := newETag()
	stored := *rec
	stored.ETag = etag
	s.contents[rec.ID] = &contentEntry{rec: stored, etag: etag}
	return etag, nil
}

func (s *Store) DeleteContent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contents[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.contents, id)
	return nil
}

func (s *Store) CreateLockIfAbsent(_ context.Context, sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLockLocked(sessionID, ttl, now)
}

// createLockLocked implements "check absence then insert" atomically; it is
// shared by CreateLockIfAbsent (Phase 1) and TryLock (Phase 2) because the
// in-memory backend has no real race between the two phases to model.
func (s *Store) createLockLocked(sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	id := store.LockID(sessionID)
	if entry, ok := s.locks[id]; ok {
		if !expired(entry.rec.CreatedDate, entry.rec.TTLSeconds, now) {
			return nil, store.ErrConflict
		}
		delete(s.locks, id)
	}
	etag := newETag()
	rec := store.LockRecord{
		ID:          id,
		TTLSeconds:  int64(ttl / time.Second),
		ETag:        etag,
		CreatedDate: now,
	}
	s.locks[id] = &lockEntry{rec: rec, etag: etag}
	out := rec
	return &out, nil
}

func (s *Store) TryLock(_ context.Context, sessionID string, ttl time.Duration, now time.Time) (bool, *store.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := store.LockID(sessionID)
	if entry, ok := s.locks[id]; ok && !expired(entry.rec.CreatedDate, entry.rec.TTLSeconds, now) {
		existing := entry.rec
		existing.ETag = entry.etag
		return false, &existing, nil
	}
	rec, err := s.createLockLocked(sessionID, ttl, now)
	if err != nil {
		return false, nil, err
	}
	return true, rec, nil
}

func (s *Store) DeleteLockIfMatch(_ context.Context, sessionID string, expected store.ETag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := store.LockID(sessionID)
	entry, ok := s.locks[id]
	if !ok {
		return store.ErrNotFound
	}
	if expected != "" && entry.etag != expected {
		return store.ErrCASMismatch
	}
	delete(s.locks, id)
	return nil
}
