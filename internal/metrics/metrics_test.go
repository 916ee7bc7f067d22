package metrics

import (
	"context"
	"testing"

	"github.com/azsession/cosmosstate/internal/store"
	"github.com/azsession/cosmosstate/internal/store/memory"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestWrapRecordsOutcomesWithoutError(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	recorder, err := NewRecorder(meter)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	backend := memory.New()
	wrapped := Wrap(backend, recorder)

	if err := wrapped.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := wrapped.ReadContent(ctx, "missing", store.ConsistencyDefault); err == nil {
		t.Fatalf("expected not-found error")
	}

	var data sdkmetric.ResourceMetrics
	if err := reader.Collect(ctx, &data); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(data.ScopeMetrics) == 0 {
		t.Fatalf("expected at least one scope of recorded metrics")
	}
}

func TestOutcomeLabelClassifiesKnownErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{store.ErrNotFound, "not_found"},
		{store.ErrConflict, "conflict"},
		{store.ErrCASMismatch, "cas_mismatch"},
		{store.NewTransientError(store.ErrConflict), "transient"},
	}
	for _, c := range cases {
		if got := outcomeLabel(c.err); got != c.want {
			t.Fatalf("outcomeLabel(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
