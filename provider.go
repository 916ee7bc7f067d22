// Package cosmosstate implements the provider facade (C6): it translates a
// host web framework's per-request session-state operations into the lock
// protocol (C4) and session store API (C5) calls documented in spec.md
// §4.5, and holds the named-singleton registry so multiple facade
// instances configured under the same provider name share one backend.
package cosmosstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/codec"
	"github.com/azsession/cosmosstate/internal/lock"
	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/metrics"
	"github.com/azsession/cosmosstate/internal/session"
	"github.com/azsession/cosmosstate/internal/store"
	"github.com/azsession/cosmosstate/internal/store/cosmos"
	"github.com/azsession/cosmosstate/internal/store/retry"
	"github.com/azsession/cosmosstate/internal/tracing"
)

// ErrInvalidSessionID is returned when a session id is empty or exceeds
// the configured maximum length (spec.md §4.5).
var ErrInvalidSessionID = errors.New("cosmosstate: invalid session id")

// Provider is one named facade instance: a lock Service, a session
// Service, and the record codec, all sharing one store.Backend.
type Provider struct {
	name               string
	lock               *lock.Service
	session            *session.Service
	codec              *codec.Codec
	compressionEnabled bool
	consistencyLevel   store.ConsistencyLevel
	maxSessionIDLength int
}

type registryEntry struct {
	once     sync.Once
	provider *Provider
	err      error
}

var registry sync.Map // name string -> *registryEntry

// GetProvider returns the Provider registered under name, constructing it
// from cfg on first call. Later calls with the same name ignore cfg and
// return the already-constructed Provider — one backend per provider name,
// built exactly once, regardless of how many facade instances the host
// framework creates (spec.md §4.5, §5 Shared-resource policy).
func GetProvider(name string, cfg Config) (*Provider, error) {
	actual, _ := registry.LoadOrStore(name, &registryEntry{})
	entry := actual.(*registryEntry)
	entry.once.Do(func() {
		entry.provider, entry.err = newProvider(name, cfg)
	})
	return entry.provider, entry.err
}

func newProvider(name string, cfg Config) (*Provider, error) {
	lockTTLSeconds := int(cfg.lockTTL() / time.Second)

	backend := cfg.Backend
	if backend == nil {
		built, err := cosmos.New(cosmos.Config{
			ConnectionString: cfg.ConnectionString,
			DatabaseID:       cfg.DatabaseID,
			ContainerID:      cfg.ContainerID,
			LockTTLSeconds:   lockTTLSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("cosmosstate: configure provider %q: %w", name, err)
		}
		backend = built
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := loggingutil.EnsureLogger(cfg.Logger)

	if cfg.Recorder != nil {
		backend = metrics.Wrap(backend, cfg.Recorder)
	}
	if cfg.Tracer != nil {
		backend = tracing.Wrap(backend, cfg.Tracer)
	}

	// Content reads/writes get a blanket transient-error retry: unlike the
	// lock script, they have no narrower, phase-specific retry rule of
	// their own to dilute. The lock Service deliberately keeps the
	// unwrapped backend — its Phase-2 retry.Do(Phase2Policy()) already
	// covers TryLock, and layering this wrapper underneath it would
	// compound retries on every contended acquisition.
	contentBackend := retry.Wrap(backend, logger, clk, ambientRetryPolicy())

	lockSvc := lock.New(lock.Config{
		Backend:           backend,
		Clock:             clk,
		Logger:            logger,
		TTLSeconds:        lockTTLSeconds,
		ReleaseQueueDepth: cfg.ReleaseQueueDepth,
	})
	sessionSvc := session.New(session.Config{
		Backend: contentBackend,
		Clock:   clk,
		Logger:  logger,
	})

	return &Provider{
		name:               name,
		lock:               lockSvc,
		session:            sessionSvc,
		codec:              codec.New(cfg.Items),
		compressionEnabled: cfg.CompressionEnabled,
		consistencyLevel:   cfg.ConsistencyLevel,
		maxSessionIDLength: cfg.maxSessionIDLength(),
	}, nil
}

func (p *Provider) validateSessionID(id string) error {
	if id == "" {
		return ErrInvalidSessionID
	}
	if len(id) > p.maxSessionIDLength {
		return ErrInvalidSessionID
	}
	return nil
}

// CreateUninitializedItem creates a content record with IsNew=true and no
// payload (spec.md §4.5 "Create uninitialized item").
func (p *Provider) CreateUninitializedItem(ctx context.Context, sessionID string, timeout time.Duration) error {
	if err := p.validateSessionID(sessionID); err != nil {
		return err
	}
	payload, err := p.codec.Encode(codec.Value{Timeout: timeout}, p.compressionEnabled)
	if err != nil {
		return fmt.Errorf("cosmosstate: encode uninitialized item: %w", err)
	}
	return p.session.WriteContents(ctx, sessionID, payload, p.compressionEnabled, timeout, true)
}

// SharedResult is returned by GetShared; it carries the stashed resource
// ExtendOnRequestEnd needs (spec.md §4.4 "stashed resource" / §9 Design
// Notes — owned here, never in a hidden package-level map).
type SharedResult struct {
	Found bool
	IsNew bool
	Value codec.Value

	stash session.ReadResult
}

// GetShared reads a session without acquiring the lock (spec.md §4.5 "Get
// (shared)"). Call ExtendOnRequestEnd with the returned SharedResult at
// request end to apply the sliding-expiration dampening rule.
func (p *Provider) GetShared(ctx context.Context, sessionID string) (SharedResult, error) {
	if err := p.validateSessionID(sessionID); err != nil {
		return SharedResult{}, err
	}
	res, err := p.session.GetSession(ctx, sessionID)
	if err != nil {
		return SharedResult{}, err
	}
	if !res.Found {
		return SharedResult{stash: res}, nil
	}
	value, err := p.codec.Decode(res.Record.Payload, res.Record.Compressed)
	if err != nil {
		return SharedResult{}, fmt.Errorf("cosmosstate: decode session %s: %w", sessionID, err)
	}
	return SharedResult{Found: true, IsNew: res.Record.IsNew, Value: value, stash: res}, nil
}

// ExtendOnRequestEnd applies the sliding-expiration dampening rule using
// the resource GetShared stashed, deferred to request end so the read
// hot-path is never stalled by the possible extension write.
func (p *Provider) ExtendOnRequestEnd(ctx context.Context, sessionID string, shared SharedResult) error {
	return p.session.ExtendLifetime(ctx, sessionID, shared.stash)
}

// ExclusiveResult is returned by GetExclusive. When Taken is false, only
// LockID and LockDate (the current holder's credential and age) are
// meaningful — Found/IsNew/Value describe nothing (spec.md §4.5 "Get
// (exclusive)").
type ExclusiveResult struct {
	Taken    bool
	LockID   store.ETag
	LockDate time.Time
	Found    bool
	IsNew    bool
	Value    codec.Value
}

// GetExclusive acquires the lock, then reads the session; a null read
// after a successful acquisition releases the lock immediately (spec.md
// §4.5: "if null, release and return null").
func (p *Provider) GetExclusive(ctx context.Context, sessionID string) (ExclusiveResult, error) {
	if err := p.validateSessionID(sessionID); err != nil {
		return ExclusiveResult{}, err
	}
	acquired, err := p.lock.Acquire(ctx, sessionID)
	if err != nil {
		return ExclusiveResult{}, err
	}
	if !acquired.Taken {
		return ExclusiveResult{Taken: false, LockID: acquired.LockID, LockDate: acquired.LockDate}, nil
	}

	res, err := p.session.GetSession(ctx, sessionID)
	if err != nil {
		p.lock.Release(sessionID, acquired.LockID)
		return ExclusiveResult{}, err
	}
	if !res.Found {
		p.lock.Release(sessionID, acquired.LockID)
		return ExclusiveResult{Taken: true, LockID: acquired.LockID, LockDate: acquired.LockDate}, nil
	}

	value, err := p.codec.Decode(res.Record.Payload, res.Record.Compressed)
	if err != nil {
		p.lock.Release(sessionID, acquired.LockID)
		return ExclusiveResult{}, fmt.Errorf("cosmosstate: decode session %s: %w", sessionID, err)
	}
	return ExclusiveResult{
		Taken:    true,
		LockID:   acquired.LockID,
		LockDate: acquired.LockDate,
		Found:    true,
		IsNew:    res.Record.IsNew,
		Value:    value,
	}, nil
}

// ReleaseExclusive releases a lock acquired by GetExclusive without
// writing (e.g. a read-then-abandon request). Best-effort; never fails
// the caller (spec.md §4.5 "Release exclusive").
func (p *Provider) ReleaseExclusive(sessionID string, lockID store.ETag) {
	p.lock.Release(sessionID, lockID)
}

// SetAndReleaseExclusive writes value and then releases lockID, always
// attempting the release even if the write fails (spec.md §4.5 "Set and
// release exclusive": "release always attempted in a finally").
func (p *Provider) SetAndReleaseExclusive(ctx context.Context, sessionID string, value codec.Value, lockID store.ETag, timeout time.Duration) error {
	defer p.lock.Release(sessionID, lockID)
	if err := p.validateSessionID(sessionID); err != nil {
		return err
	}
	payload, err := p.codec.Encode(value, p.compressionEnabled)
	if err != nil {
		return fmt.Errorf("cosmosstate: encode session %s: %w", sessionID, err)
	}
	return p.session.WriteContents(ctx, sessionID, payload, p.compressionEnabled, timeout, false)
}

// Remove deletes the content and lock records for sessionID (spec.md
// §4.5 "Remove").
func (p *Provider) Remove(ctx context.Context, sessionID string) error {
	if err := p.validateSessionID(sessionID); err != nil {
		return err
	}
	return p.session.Remove(ctx, sessionID)
}

// ResetTimeout is a no-op: the dampening rule in ExtendOnRequestEnd
// already keeps a session's TTL sliding (spec.md §4.5 "Reset timeout").
func (p *Provider) ResetTimeout(context.Context, string) error { return nil }

// Close releases the provider's background resources (the lock service's
// release worker). The shared backend is left open since other providers
// registered against the same name may still be in use.
func (p *Provider) Close() error {
	return p.lock.Close()
}

// ambientRetryPolicy covers transient network/throttling errors on point
// content reads and writes — a single retry, same jitter window as
// Phase2Policy, distinct from (and independent of) the lock script's own
// retry count.
func ambientRetryPolicy() retry.Policy {
	p := retry.Phase2Policy()
	p.MaxAttempts = 2
	return p
}
