// Package http serves the grid coding, filter and aggregation operations
// over a chi router.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/geosot/gridindex/auth"
	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/health"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
)

// RouterConfig holds the cross-cutting settings of the router. Nil
// telemetry fields disable the matching middleware.
type RouterConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// AggregateLimit throttles the aggregation endpoint per client.
	AggregateLimit *RateLimiter
	// Auth guards the endpoints that write to storage; nil leaves them open.
	Auth *auth.JWTManager

	Tracing trace.TracerProvider
	Metrics *telemetry.HTTPMetrics
	Health  *health.Checker
}

// NewRouter mounts the API under /v1 and the health endpoints under /health.
func NewRouter(h *Handler, cfg RouterConfig, logger *logging.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP, RequestID, AccessLog(logger), Recoverer(logger), SecurityHeaders)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}
	if cfg.Tracing != nil {
		r.Use(telemetry.TracingMiddleware(cfg.Tracing))
	}
	if cfg.Metrics != nil {
		r.Use(telemetry.MetricsMiddleware(cfg.Metrics))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Live())
		r.Get("/health/ready", cfg.Health.Ready())
		r.Get("/health", cfg.Health.Details())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Route("/codes", func(r chi.Router) {
			r.Use(middleware.Compress(5, "application/json"))
			r.Post("/encode", h.Encode)
			r.Post("/decode", h.Decode)
			r.Post("/truncate", h.Truncate)
			r.Post("/compare", h.Compare)
		})

		r.Post("/filters", h.Filter)
		r.Post("/filters/cover", h.Cover)
		r.With(auth.RequireScope(cfg.Auth, auth.ScopeIndexWrite)).Post("/index/entries", h.AddIndexEntries)

		r.Group(func(r chi.Router) {
			if cfg.AggregateLimit != nil {
				r.Use(cfg.AggregateLimit.Middleware)
			}
			r.Post("/aggregate", whenSaving(auth.RequireScope(cfg.Auth, auth.ScopeCellsWrite), h.Aggregate))
		})

		r.Route("/cellsets/{name}", func(r chi.Router) {
			r.Get("/", h.GetCellSet)
			r.Get("/relate/{other}", h.RelateCellSets)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(cfg.Auth, auth.ScopeCellsWrite))
				r.Put("/", h.PutCellSet)
				r.Delete("/", h.DeleteCellSet)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, apperrors.NotFound("route "+r.URL.Path))
	})
	return r
}

// whenSaving applies guard only to aggregation requests that store their
// result.
func whenSaving(guard func(http.Handler) http.Handler, next http.HandlerFunc) http.HandlerFunc {
	guarded := guard(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("save") != "" {
			guarded.ServeHTTP(w, r)
			return
		}
		next(w, r)
	}
}
