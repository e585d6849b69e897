package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments creates instruments on one meter and remembers the first
// failures so constructors can check once at the end.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) upDown(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) seconds(name, desc string, bounds ...float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bounds...))
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) sizes(name, desc, unit string, bounds ...float64) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(bounds...))
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) err() error {
	return errors.Join(b.errs...)
}

// HTTPMetrics instruments the API server.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	b := &instruments{meter: meter}
	m := &HTTPMetrics{
		requests: b.counter("http.server.requests", "HTTP requests served", "{request}"),
		duration: b.seconds("http.server.request.duration", "HTTP request duration",
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
		active: b.upDown("http.server.active_requests", "HTTP requests in flight", "{request}"),
	}
	return m, b.err()
}

// RecordRequest records one served request.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
		attribute.String("status_class", statusClass(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return string(rune('0'+status/100)) + "xx"
}

// StoreMetrics instruments one storage backend. A nil *StoreMetrics
// records nothing.
type StoreMetrics struct {
	backend    attribute.KeyValue
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	errors     metric.Int64Counter
}

// NewStoreMetrics creates the store instruments, labelled with backend
// ("redis", "postgres").
func NewStoreMetrics(meter metric.Meter, backend string) (*StoreMetrics, error) {
	b := &instruments{meter: meter}
	m := &StoreMetrics{
		backend:    attribute.String("backend", backend),
		operations: b.counter("store.operations", "Storage operations", "{operation}"),
		duration: b.seconds("store.operation.duration", "Storage operation duration",
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
		errors: b.counter("store.errors", "Failed storage operations", "{operation}"),
	}
	return m, b.err()
}

// RecordOperation records one storage call and whether it failed.
func (m *StoreMetrics) RecordOperation(ctx context.Context, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(m.backend, attribute.String("operation", op))
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// GridMetrics instruments aggregation runs and filter synthesis. A nil
// *GridMetrics records nothing.
type GridMetrics struct {
	runs           metric.Int64Counter
	duration       metric.Float64Histogram
	cells          metric.Int64Histogram
	rounds         metric.Int64Histogram
	predicateCalls metric.Int64Counter
	budgetExceeded metric.Int64Counter
	filterTerms    metric.Int64Histogram
}

func NewGridMetrics(meter metric.Meter) (*GridMetrics, error) {
	b := &instruments{meter: meter}
	m := &GridMetrics{
		runs: b.counter("grid.aggregation.runs", "Aggregation runs by outcome", "{run}"),
		duration: b.seconds("grid.aggregation.duration", "Aggregation run duration",
			0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
		cells: b.sizes("grid.aggregation.cells", "Cells in an aggregation result", "{cell}",
			1, 10, 100, 1000, 10000, 100000),
		rounds: b.sizes("grid.aggregation.rounds", "Refine rounds per aggregation run", "{round}",
			0, 1, 2, 4, 8, 16, 32),
		predicateCalls: b.counter("grid.predicate.calls", "Calls into the containment predicate", "{call}"),
		budgetExceeded: b.counter("grid.budget.exceeded", "Runs stopped by a cell or time budget", "{run}"),
		filterTerms: b.sizes("grid.filter.terms", "Terms in a synthesized filter", "{term}",
			1, 2, 4, 8, 16, 32, 64),
	}
	return m, b.err()
}

// DefaultGridMetrics builds GridMetrics on the global meter provider, a
// no-op until NewMetricsProvider installs a real one.
func DefaultGridMetrics() *GridMetrics {
	m, err := NewGridMetrics(otel.Meter(MeterName))
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return m
}

// RecordAggregation records one finished run; outcome is "ok" or the
// error code that ended it.
func (m *GridMetrics) RecordAggregation(ctx context.Context, outcome string, d time.Duration, cells, rounds int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	m.cells.Record(ctx, int64(cells), attrs)
	m.rounds.Record(ctx, int64(rounds), attrs)
}

func (m *GridMetrics) RecordPredicateCalls(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.predicateCalls.Add(ctx, int64(n))
}

// RecordBudgetExceeded counts a run stopped by budget ("cells", "time").
func (m *GridMetrics) RecordBudgetExceeded(ctx context.Context, budget string) {
	if m == nil {
		return
	}
	m.budgetExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("budget", budget)))
}

func (m *GridMetrics) RecordFilter(ctx context.Context, variant string, terms int) {
	if m == nil {
		return
	}
	m.filterTerms.Record(ctx, int64(terms), metric.WithAttributes(attribute.String("variant", variant)))
}
