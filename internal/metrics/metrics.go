// Package metrics implements observability (C8): an OpenTelemetry
// meter provider exported via Prometheus, plus a store.Backend decorator
// that records one measurement per call — operation name, elapsed time,
// request-unit cost when the backend can report it, and outcome — as
// spec.md §6 requires.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/store"
	"pkt.systems/pslog"
)

// Bundle owns the process-wide metrics pipeline and its HTTP exposition
// server; Shutdown tears both down.
type Bundle struct {
	meterProvider *sdkmetric.MeterProvider
	server        *http.Server
	listener      net.Listener
	logger        pslog.Logger
}

// Setup starts a Prometheus-backed OTel meter provider. When listen is
// empty, metrics are collected in-process but never exposed over HTTP —
// useful for tests that only want a Recorder.
func Setup(ctx context.Context, listen string, logger pslog.Logger) (*Bundle, metric.Meter, error) {
	logger = loggingutil.EnsureLogger(logger)

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName("cosmosstate")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	meter := provider.Meter("cosmosstate")

	bundle := &Bundle{meterProvider: provider, logger: logger}
	if listen == "" {
		return bundle, meter, nil
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("metrics: listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics.serve_error", "error", err)
		}
	}()
	bundle.server = srv
	bundle.listener = ln
	logger.Info("metrics.enabled", "listen", listen)
	return bundle, meter, nil
}

// Shutdown stops the exposition server and the meter provider.
func (b *Bundle) Shutdown(ctx context.Context) error {
	var errs []error
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if b.listener != nil {
		_ = b.listener.Close()
	}
	if b.meterProvider != nil {
		if err := b.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RUReporter is an optional capability a store.Backend may implement to
// report the request-unit cost of its most recently completed call.
// internal/store/cosmos implements it; internal/store/memory does not, so
// RU cost is simply omitted for in-memory tests.
type RUReporter interface {
	LastRequestCharge() float64
}

// Recorder records one measurement per store call.
type Recorder struct {
	elapsed  metric.Float64Histogram
	ruCost   metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewRecorder creates the three instruments backing every store-call
// measurement (spec.md §6: operation, RU cost, outcome, elapsed time),
// recorded as metrics; no per-call log line is written.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	elapsed, err := meter.Float64Histogram(
		"cosmosstate.store.call.duration",
		metric.WithDescription("Elapsed time of a store.Backend call"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: build duration histogram: %w", err)
	}
	ruCost, err := meter.Float64Histogram(
		"cosmosstate.store.call.request_units",
		metric.WithDescription("Request-unit cost of a store.Backend call, when reported"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: build request-unit histogram: %w", err)
	}
	outcomes, err := meter.Int64Counter(
		"cosmosstate.store.call.outcomes",
		metric.WithDescription("Store.Backend call outcomes by operation and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: build outcome counter: %w", err)
	}
	return &Recorder{elapsed: elapsed, ruCost: ruCost, outcomes: outcomes}, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case store.IsTransient(err):
		return "transient"
	case store.IsNotFound(err):
		return "not_found"
	case store.IsConflict(err):
		return "conflict"
	case store.IsCASMismatch(err):
		return "cas_mismatch"
	default:
		return "error"
	}
}

func (r *Recorder) record(ctx context.Context, op string, elapsed time.Duration, ru float64, err error) {
	attrs := attribute.NewSet(
		attribute.String("operation", op),
		attribute.String("outcome", outcomeLabel(err)),
	)
	r.elapsed.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributeSet(attrs))
	if ru > 0 {
		r.ruCost.Record(ctx, ru, metric.WithAttributeSet(attrs))
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

// Wrap decorates inner so every call records a measurement via r.
func Wrap(inner store.Backend, r *Recorder) store.Backend {
	return &instrumented{inner: inner, recorder: r}
}

type instrumented struct {
	inner    store.Backend
	recorder *Recorder
}

func (i *instrumented) requestCharge() float64 {
	if reporter, ok := i.inner.(RUReporter); ok {
		return reporter.LastRequestCharge()
	}
	return 0
}

func (i *instrumented) timed(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	i.recorder.record(ctx, op, time.Since(start), i.requestCharge(), err)
	return err
}

func (i *instrumented) Bootstrap(ctx context.Context) error {
	return i.timed(ctx, "Bootstrap", func() error { return i.inner.Bootstrap(ctx) })
}

func (i *instrumented) ReadContent(ctx context.Context, id string, level store.ConsistencyLevel) (*store.ContentRecord, error) {
	var rec *store.ContentRecord
	err := i.timed(ctx, "ReadContent", func() error {
		var innerErr error
		rec, innerErr = i.inner.ReadContent(ctx, id, level)
		return innerErr
	})
	return rec, err
}

func (i *instrumented) UpsertContent(ctx context.Context, rec *store.ContentRecord) (store.ETag, error) {
	var etag store.ETag
	err := i.timed(ctx, "UpsertContent", func() error {
		var innerErr error
		etag, innerErr = i.inner.UpsertContent(ctx, rec)
		return innerErr
	})
	return etag, err
}

func (i *instrumented) ReplaceContentIfMatch(ctx context.Context, rec *store.ContentRecord, expected store.ETag, level store.ConsistencyLevel) (store.ETag, error) {
	var etag store.ETag
	err := i.timed(ctx, "ReplaceContentIfMatch", func() error {
		var innerErr error
		etag, innerErr = i.inner.ReplaceContentIfMatch(ctx, rec, expected, level)
		return innerErr
	})
	return etag, err
}

func (i *instrumented) DeleteContent(ctx context.Context, id string) error {
	return i.timed(ctx, "DeleteContent", func() error { return i.inner.DeleteContent(ctx, id) })
}

func (i *instrumented) CreateLockIfAbsent(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	var rec *store.LockRecord
	err := i.timed(ctx, "CreateLockIfAbsent", func() error {
		var innerErr error
		rec, innerErr = i.inner.CreateLockIfAbsent(ctx, sessionID, ttl, now)
		return innerErr
	})
	return rec, err
}

func (i *instrumented) TryLock(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (bool, *store.LockRecord, error) {
	var (
		locked bool
		rec    *store.LockRecord
	)
	err := i.timed(ctx, "TryLock", func() error {
		var innerErr error
		locked, rec, innerErr = i.inner.TryLock(ctx, sessionID, ttl, now)
		return innerErr
	})
	return locked, rec, err
}

func (i *instrumented) DeleteLockIfMatch(ctx context.Context, sessionID string, expected store.ETag) error {
	return i.timed(ctx, "DeleteLockIfMatch", func() error { return i.inner.DeleteLockIfMatch(ctx, sessionID, expected) })
}

func (i *instrumented) Close() error { return i.inner.Close() }
