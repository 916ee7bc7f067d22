// Package telemetry mints short, sortable per-call trace ids from xid and
// attaches them to structured log lines.
package telemetry

import (
	"context"

	"github.com/rs/xid"
	"pkt.systems/pslog"
)

type traceIDKey struct{}

// NewTraceID mints a new 20-char lowercase base32 trace id.
func NewTraceID() string {
	return xid.New().String()
}

// WithTraceID attaches id to ctx for later retrieval by TraceID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceID returns the trace id attached to ctx, minting one if absent.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	return NewTraceID()
}

// Logger returns a logger with trace_id already bound as a field, so every
// line a call site emits carries it without repeating the key/value pair.
func Logger(ctx context.Context, base pslog.Logger) pslog.Logger {
	return base.With("trace_id", TraceID(ctx))
}
