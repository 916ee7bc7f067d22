package telemetry

import (
	"context"
	"testing"

	"github.com/rs/xid"
)

func TestNewTraceIDIsAValidXid(t *testing.T) {
	id := NewTraceID()
	if _, err := xid.FromString(id); err != nil {
		t.Fatalf("expected a valid xid, got %q: %v", id, err)
	}
}

func TestTraceIDRoundTripsThroughContext(t *testing.T) {
	want := NewTraceID()
	ctx := WithTraceID(context.Background(), want)
	if got := TraceID(ctx); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTraceIDMintsOneWhenAbsent(t *testing.T) {
	id := TraceID(context.Background())
	if _, err := xid.FromString(id); err != nil {
		t.Fatalf("expected a minted valid xid, got %q: %v", id, err)
	}
}
