// Package tracing decorates a store.Backend with one OpenTelemetry span per
// call, alongside the measurement internal/metrics records for the same
// call. The two decorators are installed independently (Config.Tracer and
// Config.Recorder), so either may be present without the other.
package tracing

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/azsession/cosmosstate/internal/loggingutil"
	"github.com/azsession/cosmosstate/internal/store"
	"pkt.systems/pslog"
)

// Bundle owns a process-wide TracerProvider. Shutdown flushes and closes it.
type Bundle struct {
	provider *sdktrace.TracerProvider
}

// Tracer returns b's tracer, or the global no-op tracer when b is nil —
// Wrap works either way, so callers that never configure an OTLP endpoint
// still get spans, just ones nobody exports.
func (b *Bundle) Tracer() trace.Tracer {
	if b == nil || b.provider == nil {
		return otel.Tracer("github.com/azsession/cosmosstate/store")
	}
	return b.provider.Tracer("github.com/azsession/cosmosstate/store")
}

// Shutdown flushes buffered spans and releases exporter resources.
func (b *Bundle) Shutdown(ctx context.Context) error {
	if b == nil || b.provider == nil {
		return nil
	}
	return b.provider.Shutdown(ctx)
}

// Setup starts an OTLP trace exporter toward endpoint (grpc://host:port,
// http://host:port, or a bare host:port treated as grpc) and registers it as
// the global TracerProvider. An empty endpoint is valid: Setup returns a nil
// Bundle, whose Tracer method returns the global (by default no-op) tracer.
func Setup(ctx context.Context, endpoint string, logger pslog.Logger) (*Bundle, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, nil
	}
	logger = loggingutil.EnsureLogger(logger)

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName("cosmosstate")),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	target, err := resolveTarget(endpoint)
	if err != nil {
		return nil, err
	}

	var provider *sdktrace.TracerProvider
	switch target.protocol {
	case "grpc":
		provider, err = setupGRPC(ctx, target, res)
	case "http":
		provider, err = setupHTTP(ctx, target, res)
	default:
		return nil, fmt.Errorf("tracing: unsupported protocol %q", target.protocol)
	}
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(provider)
	logger.Info("tracing.enabled", "protocol", target.protocol, "endpoint", target.endpoint, "insecure", target.insecure)
	return &Bundle{provider: provider}, nil
}

type target struct {
	protocol string
	endpoint string
	insecure bool
}

func resolveTarget(raw string) (target, error) {
	if !strings.Contains(raw, "://") {
		endpoint := raw
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4317")
		}
		return target{protocol: "grpc", endpoint: endpoint, insecure: true}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("tracing: parse endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		return target{protocol: "grpc", endpoint: u.Host, insecure: true}, nil
	case "grpcs":
		return target{protocol: "grpc", endpoint: u.Host, insecure: false}, nil
	case "http":
		endpoint := u.Host
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4318")
		}
		return target{protocol: "http", endpoint: endpoint, insecure: true}, nil
	case "https":
		endpoint := u.Host
		if !strings.Contains(endpoint, ":") {
			endpoint = net.JoinHostPort(endpoint, "4318")
		}
		return target{protocol: "http", endpoint: endpoint, insecure: false}, nil
	default:
		return target{}, fmt.Errorf("tracing: unknown scheme %q", u.Scheme)
	}
}

func setupGRPC(ctx context.Context, t target, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(t.endpoint),
		otlptracegrpc.WithTimeout(10 * time.Second),
	}
	if t.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	} else {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: start exporter (grpc): %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

func setupHTTP(ctx context.Context, t target, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(t.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: start exporter (http): %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

// Wrap decorates inner so every Backend call opens a span named
// cosmosstate.store.<op>, recording whether a session id was given and the
// outcome (not the id itself) the way
// internal/metrics.Wrap records a measurement for the same call.
func Wrap(inner store.Backend, tracer trace.Tracer) store.Backend {
	return &traced{inner: inner, tracer: tracer}
}

type traced struct {
	inner  store.Backend
	tracer trace.Tracer
}

func (t *traced) start(ctx context.Context, op, sessionID string) (context.Context, trace.Span, func(error)) {
	ctx, span := t.tracer.Start(ctx, "cosmosstate.store."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("cosmosstate.store.operation", op),
		attribute.Bool("cosmosstate.store.has_session_id", sessionID != ""),
	)
	return ctx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (t *traced) Bootstrap(ctx context.Context) error {
	ctx, _, finish := t.start(ctx, "Bootstrap", "")
	err := t.inner.Bootstrap(ctx)
	finish(err)
	return err
}

func (t *traced) ReadContent(ctx context.Context, id string, level store.ConsistencyLevel) (*store.ContentRecord, error) {
	ctx, span, finish := t.start(ctx, "ReadContent", id)
	span.SetAttributes(attribute.Int("cosmosstate.store.consistency", int(level)))
	rec, err := t.inner.ReadContent(ctx, id, level)
	finish(err)
	return rec, err
}

func (t *traced) UpsertContent(ctx context.Context, rec *store.ContentRecord) (store.ETag, error) {
	id := ""
	if rec != nil {
		id = rec.ID
	}
	ctx, _, finish := t.start(ctx, "UpsertContent", id)
	etag, err := t.inner.UpsertContent(ctx, rec)
	finish(err)
	return etag, err
}

func (t *traced) ReplaceContentIfMatch(ctx context.Context, rec *store.ContentRecord, expected store.ETag, level store.ConsistencyLevel) (store.ETag, error) {
	id := ""
	if rec != nil {
		id = rec.ID
	}
	ctx, span, finish := t.start(ctx, "ReplaceContentIfMatch", id)
	span.SetAttributes(attribute.Int("cosmosstate.store.consistency", int(level)))
	etag, err := t.inner.ReplaceContentIfMatch(ctx, rec, expected, level)
	finish(err)
	return etag, err
}

func (t *traced) DeleteContent(ctx context.Context, id string) error {
	ctx, _, finish := t.start(ctx, "DeleteContent", id)
	err := t.inner.DeleteContent(ctx, id)
	finish(err)
	return err
}

func (t *traced) CreateLockIfAbsent(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*store.LockRecord, error) {
	ctx, span, finish := t.start(ctx, "CreateLockIfAbsent", sessionID)
	span.SetAttributes(attribute.Int64("cosmosstate.store.ttl_seconds", int64(ttl/time.Second)))
	rec, err := t.inner.CreateLockIfAbsent(ctx, sessionID, ttl, now)
	finish(err)
	return rec, err
}

func (t *traced) TryLock(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (bool, *store.LockRecord, error) {
	ctx, span, finish := t.start(ctx, "TryLock", sessionID)
	span.SetAttributes(attribute.Int64("cosmosstate.store.ttl_seconds", int64(ttl/time.Second)))
	locked, rec, err := t.inner.TryLock(ctx, sessionID, ttl, now)
	span.SetAttributes(attribute.Bool("cosmosstate.store.locked", locked))
	finish(err)
	return locked, rec, err
}

func (t *traced) DeleteLockIfMatch(ctx context.Context, sessionID string, expected store.ETag) error {
	ctx, _, finish := t.start(ctx, "DeleteLockIfMatch", sessionID)
	err := t.inner.DeleteLockIfMatch(ctx, sessionID, expected)
	finish(err)
	return err
}

func (t *traced) Close() error { return t.inner.Close() }
