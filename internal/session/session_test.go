package session

import (
	"context"
	"testing"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/store"
	"github.com/azsession/cosmosstate/internal/store/memory"
)

func TestGetSessionMissingReportsNotFound(t *testing.T) {
	backend := memory.New()
	svc := New(Config{Backend: backend})

	res, err := svc.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Found {
		t.Fatalf("expected Found=false for a session never written")
	}
}

func TestWriteThenGetRoundTrips(t *testing.T) {
	backend := memory.New()
	svc := New(Config{Backend: backend})
	ctx := context.Background()

	if err := svc.WriteContents(ctx, "sess-1", []byte("payload"), false, 60*time.Second, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := svc.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !res.Found {
		t.Fatalf("expected Found=true after write")
	}
	if string(res.Record.Payload) != "payload" {
		t.Fatalf("unexpected payload: %q", res.Record.Payload)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	backend := memory.New()
	svc := New(Config{Backend: backend})
	ctx := context.Background()

	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, 60*time.Second, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := svc.Remove(ctx, "sess-1"); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := svc.Remove(ctx, "sess-1"); err != nil {
		t.Fatalf("second remove should tolerate 404s, got: %v", err)
	}
	res, err := svc.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if res.Found {
		t.Fatalf("expected session gone after remove")
	}
}

func TestExtendLifetimeNoopBelowThreshold(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	backend := memory.NewWithClock(clk)
	svc := New(Config{Backend: backend, Clock: clk})
	ctx := context.Background()

	ttl := 60 * time.Second
	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, ttl, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	prev, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !prev.Found {
		t.Fatalf("get: %v found=%v", err, prev.Found)
	}

	// 10s elapsed of a 60s ttl: remaining=50s, tolerated=40s -> no-op.
	clk.Advance(10 * time.Second)
	if err := svc.ExtendLifetime(ctx, "sess-1", prev); err != nil {
		t.Fatalf("extend: %v", err)
	}
	after, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !after.Found {
		t.Fatalf("get after extend: %v found=%v", err, after.Found)
	}
	if !after.Record.CreatedDate.Equal(prev.Record.CreatedDate) {
		t.Fatalf("expected no-op: CreatedDate changed from %v to %v", prev.Record.CreatedDate, after.Record.CreatedDate)
	}
}

func TestExtendLifetimePastThresholdExtends(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	backend := memory.NewWithClock(clk)
	svc := New(Config{Backend: backend, Clock: clk})
	ctx := context.Background()

	ttl := 60 * time.Second
	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, ttl, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	prev, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !prev.Found {
		t.Fatalf("get: %v found=%v", err, prev.Found)
	}

	// 41s elapsed of a 60s ttl: remaining=19s, tolerated=40s -> extend.
	clk.Advance(41 * time.Second)
	if err := svc.ExtendLifetime(ctx, "sess-1", prev); err != nil {
		t.Fatalf("extend: %v", err)
	}
	after, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !after.Found {
		t.Fatalf("get after extend: %v found=%v", err, after.Found)
	}
	if !after.Record.CreatedDate.Equal(clk.Now()) {
		t.Fatalf("expected CreatedDate refreshed to now, got %v want %v", after.Record.CreatedDate, clk.Now())
	}
}

// TestExtendLifetimeAtExactBoundaryIsNoop reproduces spec.md §8's worked
// example literally: with a 60s ttl, t0+20 leaves 40s remaining, exactly
// equal to the tolerated threshold (60 - 60/3 = 40), and must be a no-op.
func TestExtendLifetimeAtExactBoundaryIsNoop(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	backend := memory.NewWithClock(clk)
	svc := New(Config{Backend: backend, Clock: clk})
	ctx := context.Background()

	ttl := 60 * time.Second
	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, ttl, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	prev, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !prev.Found {
		t.Fatalf("get: %v found=%v", err, prev.Found)
	}

	clk.Advance(20 * time.Second)
	if err := svc.ExtendLifetime(ctx, "sess-1", prev); err != nil {
		t.Fatalf("extend: %v", err)
	}
	after, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !after.Found {
		t.Fatalf("get after extend: %v found=%v", err, after.Found)
	}
	if !after.Record.CreatedDate.Equal(prev.Record.CreatedDate) {
		t.Fatalf("expected no-op at t0+20: CreatedDate changed from %v to %v", prev.Record.CreatedDate, after.Record.CreatedDate)
	}
}

// TestExtendLifetimeJustPastBoundaryExtends reproduces spec.md §8's other
// half of the same worked example: t0+41 leaves 19s remaining, one second
// past the 40s tolerated threshold, and must extend.
func TestExtendLifetimeJustPastBoundaryExtends(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	backend := memory.NewWithClock(clk)
	svc := New(Config{Backend: backend, Clock: clk})
	ctx := context.Background()

	ttl := 60 * time.Second
	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, ttl, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	prev, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !prev.Found {
		t.Fatalf("get: %v found=%v", err, prev.Found)
	}

	clk.Advance(41 * time.Second)
	if err := svc.ExtendLifetime(ctx, "sess-1", prev); err != nil {
		t.Fatalf("extend: %v", err)
	}
	after, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !after.Found {
		t.Fatalf("get after extend: %v found=%v", err, after.Found)
	}
	if !after.Record.CreatedDate.Equal(clk.Now()) {
		t.Fatalf("expected CreatedDate refreshed at t0+41, got %v want %v", after.Record.CreatedDate, clk.Now())
	}
}

func TestExtendLifetimeToleratesStaleETag(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	backend := memory.NewWithClock(clk)
	svc := New(Config{Backend: backend, Clock: clk})
	ctx := context.Background()

	ttl := 60 * time.Second
	if err := svc.WriteContents(ctx, "sess-1", []byte("x"), false, ttl, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	prev, err := svc.GetSession(ctx, "sess-1")
	if err != nil || !prev.Found {
		t.Fatalf("get: %v found=%v", err, prev.Found)
	}
	// A concurrent write changes the ETag before the extend lands.
	if err := svc.WriteContents(ctx, "sess-1", []byte("y"), false, ttl, false); err != nil {
		t.Fatalf("concurrent write: %v", err)
	}

	clk.Advance(41 * time.Second)
	stale := prev
	stale.Record.ETag = store.ETag("does-not-exist")
	if err := svc.ExtendLifetime(ctx, "sess-1", stale); err != nil {
		t.Fatalf("extend should swallow a CAS mismatch, got: %v", err)
	}
}
