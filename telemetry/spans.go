package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

func tracer() trace.Tracer { return otel.Tracer(MeterName) }

// TraceID is the hex trace ID of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// StartSpan starts an internal span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks the span Ok or records err, then ends it.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func AggregationAttributes(runID string, levelMin, levelMax int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("grid.run_id", runID),
		attribute.Int("grid.level_min", levelMin),
		attribute.Int("grid.level_max", levelMax),
	}
}

// RoundAttributes describes one refine round: the level it ran at, the
// cells examined and how many were accepted or left for the next level.
func RoundAttributes(level, frontier, accepted, pending int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("grid.level", level),
		attribute.Int("grid.frontier", frontier),
		attribute.Int("grid.accepted", accepted),
		attribute.Int("grid.pending", pending),
	}
}

func FilterAttributes(variant, extent, query string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("grid.filter.variant", variant),
		attribute.String("grid.filter.extent", extent),
		attribute.String("grid.filter.query", query),
	}
}

// StoreAttributes uses the database semantic conventions; target is the
// table or key prefix.
func StoreAttributes(system, operation, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.DBSystemKey.String(system),
		semconv.DBOperation(operation),
		semconv.DBSQLTable(target),
	}
}

// WrapStoreOperation runs fn inside a client span named "operation target".
func WrapStoreOperation(ctx context.Context, system, operation, target string, fn func(context.Context) error) error {
	ctx, span := tracer().Start(ctx, operation+" "+target,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(StoreAttributes(system, operation, target)...),
	)
	err := fn(ctx)
	EndSpan(span, err)
	return err
}
