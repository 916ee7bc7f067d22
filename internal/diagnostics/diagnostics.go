// Package diagnostics implements the store connectivity preflight check:
// bootstrap, point write/read, conditional replace, delete, and lock
// create/release against a live store.Backend, plus a snapshot of host
// resources for the accompanying bug report. TTL expiry is not exercised.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/azsession/cosmosstate/internal/clock"
	"github.com/azsession/cosmosstate/internal/store"
)

// CheckResult is the outcome of a single verification step.
type CheckResult struct {
	Name string
	Err  error
}

// Result captures the outcome of a full preflight run.
type Result struct {
	DatabaseID  string
	ContainerID string
	Checks      []CheckResult
	Host        HostSnapshot
}

// Passed reports whether every check succeeded.
func (r Result) Passed() bool {
	for _, check := range r.Checks {
		if check.Err != nil {
			return false
		}
	}
	return true
}

// HostSnapshot is a point-in-time view of the machine running the
// diagnostic, useful context when attaching a preflight report to a bug.
type HostSnapshot struct {
	Hostname        string
	Platform        string
	KernelVersion   string
	TotalMemoryMB   uint64
	UsedMemoryMB    uint64
	MemoryUsPercent float64
}

func snapshotHost() HostSnapshot {
	var snap HostSnapshot
	if info, err := host.Info(); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = info.Platform
		snap.KernelVersion = info.KernelVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.TotalMemoryMB = vm.Total / (1024 * 1024)
		snap.UsedMemoryMB = vm.Used / (1024 * 1024)
		snap.MemoryUsPercent = vm.UsedPercent
	}
	return snap
}

// Verify runs the preflight checks spec.md §4.2's bootstrap step implies a
// healthy backend must pass: bootstrap idempotence, a point write/read
// round trip on a disposable session id, a conditional replace, an
// unconditional delete of that content record, and lock create/release.
func Verify(ctx context.Context, databaseID, containerID string, backend store.Backend) (Result, error) {
	result := Result{DatabaseID: databaseID, ContainerID: containerID, Host: snapshotHost()}

	run := func(name string, fn func(context.Context) error) {
		checkCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		result.Checks = append(result.Checks, CheckResult{Name: name, Err: fn(checkCtx)})
	}

	run("Bootstrap", func(ctx context.Context) error {
		return backend.Bootstrap(ctx)
	})

	sessionID := "cosmosstate-diagnostics-" + clock.Real{}.Now().UTC().Format("20060102T150405.000000000")
	var etag store.ETag

	run("PointWrite", func(ctx context.Context) error {
		rec := &store.ContentRecord{
			ID:          sessionID,
			TTLSeconds:  60,
			CreatedDate: clock.Real{}.Now(),
			Payload:     []byte("diagnostics"),
		}
		var err error
		etag, err = backend.UpsertContent(ctx, rec)
		return err
	})

	run("PointRead", func(ctx context.Context) error {
		rec, err := backend.ReadContent(ctx, sessionID, store.ConsistencyDefault)
		if err != nil {
			return err
		}
		if string(rec.Payload) != "diagnostics" {
			return fmt.Errorf("diagnostics: round-trip payload mismatch: %q", rec.Payload)
		}
		return nil
	})

	run("ConditionalReplace", func(ctx context.Context) error {
		rec := &store.ContentRecord{
			ID:          sessionID,
			TTLSeconds:  60,
			CreatedDate: clock.Real{}.Now(),
			Payload:     []byte("diagnostics-replaced"),
		}
		newEtag, err := backend.ReplaceContentIfMatch(ctx, rec, etag, store.ConsistencyEventual)
		if err != nil {
			return err
		}
		etag = newEtag
		return nil
	})

	run("ContentDelete", func(ctx context.Context) error {
		err := backend.DeleteContent(ctx, sessionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})

	lockSessionID := sessionID + "-lock-check"
	var lockEtag store.ETag
	run("LockCreate", func(ctx context.Context) error {
		rec, err := backend.CreateLockIfAbsent(ctx, lockSessionID, 5*time.Second, clock.Real{}.Now())
		if err != nil {
			return err
		}
		lockEtag = rec.ETag
		return nil
	})

	run("LockRelease", func(ctx context.Context) error {
		err := backend.DeleteLockIfMatch(ctx, lockSessionID, lockEtag)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})

	return result, nil
}
