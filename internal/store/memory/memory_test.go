package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/store"
)

func TestContentNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.ReadContent(ctx, "s1", store.ConsistencyDefault); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContentUpsertThenRead(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &store.ContentRecord{ID: "s1", TTLSeconds: 60, CreatedDate: time.Now().UTC(), IsNew: true}
	if _, err := s.UpsertContent(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.ReadContent(ctx, "s1", store.ConsistencyDefault)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.IsNew {
		t.Fatalf("expected IsNew=true")
	}
}

func TestReplaceContentIfMatchRejectsStaleETag(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &store.ContentRecord{ID: "s1", TTLSeconds: 60, CreatedDate: time.Now().UTC()}
	etag, err := s.UpsertContent(ctx, rec)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec.ETag = etag
	if _, err := s.ReplaceContentIfMatch(ctx, rec, "bogus", store.ConsistencyEventual); !errors.Is(err, store.ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch, got %v", err)
	}
	if _, err := s.ReplaceContentIfMatch(ctx, rec, etag, store.ConsistencyEventual); err != nil {
		t.Fatalf("expected replace to succeed with correct etag: %v", err)
	}
}

func TestLockMutualExclusion(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.CreateLockIfAbsent(ctx, "s2", 30*time.Second, now); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateLockIfAbsent(ctx, "s2", 30*time.Second, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on second create, got %v", err)
	}

	locked, existing, err := s.TryLock(ctx, "s2", 30*time.Second, now)
	if err != nil {
		t.Fatalf("try lock: %v", err)
	}
	if locked {
		t.Fatalf("expected contention, got locked=true")
	}
	if existing == nil || existing.ETag == "" {
		t.Fatalf("expected existing lock record with etag")
	}
}

func TestLockReleaseWrongETagLeavesLockIntact(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := s.CreateLockIfAbsent(ctx, "s3", 30*time.Second, now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteLockIfMatch(ctx, "s3", "bogus"); !errors.Is(err, store.ErrCASMismatch) {
		t.Fatalf("expected ErrCASMismatch, got %v", err)
	}
	if _, err := s.CreateLockIfAbsent(ctx, "s3", 30*time.Second, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("lock should still be held, got %v", err)
	}
}

func TestLockTTLSelfHeal(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	s := NewWithClock(clk)
	ctx := context.Background()

	if _, err := s.CreateLockIfAbsent(ctx, "s4", 30*time.Second, clk.Now()); err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(31 * time.Second)
	if _, err := s.CreateLockIfAbsent(ctx, "s4", 30*time.Second, clk.Now()); err != nil {
		t.Fatalf("expected acquire to succeed after TTL expiry, got %v", err)
	}
}

func TestReleaseIdempotence(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	rec, err := s.CreateLockIfAbsent(ctx, "s5", 30*time.Second, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteLockIfMatch(ctx, "s5", rec.ETag); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := s.DeleteLockIfMatch(ctx, "s5", rec.ETag); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second release, got %v", err)
	}
}
