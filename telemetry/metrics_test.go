package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation is %T, want Sum[int64]", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestGridMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewGridMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewGridMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordAggregation(ctx, "ok", 20*time.Millisecond, 42, 3)
	m.RecordAggregation(ctx, "ok", 10*time.Millisecond, 7, 1)
	m.RecordPredicateCalls(ctx, 12)
	m.RecordBudgetExceeded(ctx, "cells")
	m.RecordFilter(ctx, "filter2", 9)

	got := collect(t, reader)
	if n := sumOf(t, got["grid.aggregation.runs"]); n != 2 {
		t.Errorf("grid.aggregation.runs = %d, want 2", n)
	}
	if n := sumOf(t, got["grid.predicate.calls"]); n != 12 {
		t.Errorf("grid.predicate.calls = %d, want 12", n)
	}
	if n := sumOf(t, got["grid.budget.exceeded"]); n != 1 {
		t.Errorf("grid.budget.exceeded = %d, want 1", n)
	}
	if _, ok := got["grid.filter.terms"]; !ok {
		t.Error("grid.filter.terms not recorded")
	}
}

func TestGridMetrics_NilSafe(t *testing.T) {
	var m *GridMetrics
	ctx := context.Background()

	m.RecordAggregation(ctx, "ok", time.Second, 1, 1)
	m.RecordPredicateCalls(ctx, 1)
	m.RecordBudgetExceeded(ctx, "time")
	m.RecordFilter(ctx, "filter1", 1)

	var s *StoreMetrics
	s.RecordOperation(ctx, "save", time.Millisecond, errors.New("boom"))
}

func TestStoreMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewStoreMetrics(provider.Meter("test"), "redis")
	if err != nil {
		t.Fatalf("NewStoreMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordOperation(ctx, "save", time.Millisecond, nil)
	m.RecordOperation(ctx, "load", time.Millisecond, errors.New("boom"))

	got := collect(t, reader)
	if n := sumOf(t, got["store.operations"]); n != 2 {
		t.Errorf("store.operations = %d, want 2", n)
	}
	if n := sumOf(t, got["store.errors"]); n != 1 {
		t.Errorf("store.errors = %d, want 1", n)
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{101: "1xx", 200: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 42: "unknown", 600: "unknown"}
	for status, want := range tests {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewHTTPMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Get("/v1/cellsets/{name}/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK) // superfluous, ignored
	})
	for _, name := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/cellsets/"+name+"/", nil))
	}

	got := collect(t, reader)
	sum := got["http.server.requests"].(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("got %d series, want one per route", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if dp.Value != 3 {
		t.Errorf("requests = %d, want 3", dp.Value)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("route")); v.AsString() != "/v1/cellsets/{name}/" {
		t.Errorf("route = %q", v.AsString())
	}
	if v, _ := dp.Attributes.Value(attribute.Key("status_code")); v.AsInt64() != http.StatusNotFound {
		t.Errorf("status_code = %d", v.AsInt64())
	}
	if n := sumOf(t, got["http.server.active_requests"]); n != 0 {
		t.Errorf("active requests = %d after all returned", n)
	}
}
