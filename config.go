package cosmosstate

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/codec"
	"github.com/azsession/cosmosstate/internal/metrics"
	"github.com/azsession/cosmosstate/internal/store"
	"pkt.systems/pslog"
)

// DefaultMaxSessionIDLength is the host framework's typical session-id
// length cap (spec.md §4.5); providers may override it.
const DefaultMaxSessionIDLength = 80

// DefaultLockTTLSeconds is xLockTtlSeconds from spec.md §6. No key in this
// module carries the leading "x": the Go field is LockTTLSeconds and the
// sessiond flag is --lock-ttl (env SESSIONSTORE_LOCK_TTL).
const DefaultLockTTLSeconds = 30

// Config configures one named Provider instance (spec.md §6).
type Config struct {
	// ConnectionString is "AccountEndpoint=...;AccountKey=...;". Parsing
	// and secret resolution are the CLI/config layer's job, not the
	// core's (spec.md §1 Out of scope); Config receives the resolved
	// string.
	ConnectionString string
	DatabaseID       string
	ContainerID      string

	// LockTTLSeconds is xLockTtlSeconds; zero uses DefaultLockTTLSeconds.
	LockTTLSeconds int
	// CompressionEnabled gzip-wraps every encoded payload.
	CompressionEnabled bool
	// ConsistencyLevel is recorded on the Provider but not passed to any
	// store call: ordinary reads and writes run at the backend's default
	// level (store.ConsistencyDefault), and the sliding-expiration extend
	// always uses store.ConsistencyEventual (spec.md §4.4).
	ConsistencyLevel store.ConsistencyLevel
	// MaxSessionIDLength bounds accepted session ids; zero uses
	// DefaultMaxSessionIDLength.
	MaxSessionIDLength int
	// ReleaseQueueDepth bounds the fire-and-forget lock-release queue;
	// zero uses background.DefaultQueueDepth.
	ReleaseQueueDepth int

	// Items is the host framework's opaque dictionary serializer (spec.md
	// §1 Out of scope: the core treats session contents as an ordered
	// key->value dictionary plus a static-object dictionary, serialized by
	// a caller-supplied codec).
	Items codec.ItemsCodec

	// Backend overrides the store.Backend used by this provider. Nil
	// constructs a real internal/store/cosmos.Store from the fields
	// above; tests and the CLI's in-memory mode pass an explicit backend
	// (e.g. internal/store/memory.New()).
	Backend store.Backend

	// Recorder, when set, wraps Backend for per-call metrics (C8). Nil
	// disables metrics instrumentation.
	Recorder *metrics.Recorder

	// Tracer, when set, wraps Backend so every call opens a span (see
	// internal/tracing). Nil disables span creation; the decorator is
	// simply not installed rather than installed with a no-op tracer, so
	// GetProvider callers who never configure OTLP pay nothing for it.
	Tracer trace.Tracer

	Logger pslog.Logger
	Clock  clock.Clock
}

func (c Config) lockTTL() time.Duration {
	ttl := c.LockTTLSeconds
	if ttl <= 0 {
		ttl = DefaultLockTTLSeconds
	}
	return time.Duration(ttl) * time.Second
}

func (c Config) maxSessionIDLength() int {
	if c.MaxSessionIDLength <= 0 {
		return DefaultMaxSessionIDLength
	}
	return c.MaxSessionIDLength
}
