package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig selects the OTLP/HTTP collector and the head sampling rate.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is host:port; empty uses the exporter's environment defaults.
	Endpoint string
	Insecure bool
	// SampleRate is the fraction of new traces kept. Sampled parents are
	// always followed.
	SampleRate float64
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{SampleRate: 1}
}

// TracingProvider owns the SDK pipeline installed as the global provider.
type TracingProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewTracingProvider exports spans in batches and installs the provider
// and a W3C trace context plus baggage propagator globally.
func NewTracingProvider(ctx context.Context, cfg TracingConfig) (*TracingProvider, error) {
	opts := make([]otlptracehttp.Option, 0, 2)
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	res, err := newResource(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRate))),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return &TracingProvider{sdk: sdk}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	if rate <= 0 {
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Provider is what TracingMiddleware takes.
func (p *TracingProvider) Provider() trace.TracerProvider { return p.sdk }

// Shutdown flushes buffered spans.
func (p *TracingProvider) Shutdown(ctx context.Context) error { return p.sdk.Shutdown(ctx) }

// TracingMiddleware opens a server span per request with otelhttp,
// continuing incoming traces. Spans are renamed to "METHOD pattern" once
// chi has routed the request, so cell names and codes stay out of span
// names. Health probes are not traced. otelhttp's own instruments are
// disabled; MetricsMiddleware covers requests.
func TracingMiddleware(tp trace.TracerProvider) func(http.Handler) http.Handler {
	instrument := otelhttp.NewMiddleware("http.server",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(noop.NewMeterProvider()),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/health")
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return func(next http.Handler) http.Handler {
		return instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			route := routePattern(r)
			span := trace.SpanFromContext(r.Context())
			span.SetName(r.Method + " " + route)
			span.SetAttributes(semconv.HTTPRoute(route))
		}))
	}
}

// routePattern returns the matched chi pattern, or the raw path when the
// request was not routed.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
