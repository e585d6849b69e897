// Package bootstrap wires the grid index service from its configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/geosot/gridindex/aggregate"
	"github.com/geosot/gridindex/auth"
	"github.com/geosot/gridindex/config"
	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/health"
	apihttp "github.com/geosot/gridindex/http"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/store"
	"github.com/geosot/gridindex/telemetry"
)

// memoryCacheEntries bounds the in-process aggregate cache used without Redis.
const memoryCacheEntries = 1024

// Service holds all initialized components of the grid index service.
type Service struct {
	Config *config.Config
	Logger *logging.Logger
	Stores *store.Registry
	Health *health.Checker
	Router http.Handler
	Server *apihttp.Server

	limiter *apihttp.RateLimiter
	tracing *telemetry.TracingProvider
	metrics *telemetry.MetricsProvider
}

// Options configures which optional parts are started.
type Options struct {
	// UseStores connects the Redis and PostgreSQL backends named in the
	// configuration. Without it only the stateless endpoints work.
	UseStores bool

	// Apply the key index migrations on startup (PostgreSQL only)
	RunMigrations bool
}

// DefaultOptions returns options that enable all backends.
func DefaultOptions() Options {
	return Options{
		UseStores:     true,
		RunMigrations: true,
	}
}

// Initialize loads the configuration from the environment and builds the
// service.
func Initialize(ctx context.Context, serviceName string, opts Options) (*Service, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return New(ctx, cfg, opts)
}

// MustInitialize initializes the service and panics on error.
func MustInitialize(ctx context.Context, serviceName string, opts Options) *Service {
	svc, err := Initialize(ctx, serviceName, opts)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize service: %v", err))
	}
	return svc
}

// New builds the service from cfg. On error everything already started is
// shut down again.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	logger := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: logging.ParseFormat(cfg.LogFormat),
	}).WithService(cfg.ServiceName)
	logger.Info("starting service", "environment", cfg.Environment, "version", cfg.Version)

	svc := &Service{Config: cfg, Logger: logger}
	if err := svc.init(ctx, opts); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(closeCtx)
		return nil, err
	}
	return svc, nil
}

func (s *Service) init(ctx context.Context, opts Options) error {
	cfg := s.Config

	mp, err := telemetry.NewMetricsProvider(ctx, telemetry.MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	s.metrics = mp
	meter := mp.Meter()

	var tracing trace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		tc := telemetry.DefaultTracingConfig()
		tc.ServiceName = cfg.ServiceName
		tc.ServiceVersion = cfg.Version
		tc.Environment = cfg.Environment
		tc.Endpoint = cfg.OTLPEndpoint
		tc.SampleRate = cfg.TraceSampleRate
		tc.Insecure = cfg.OTLPInsecure
		tp, err := telemetry.NewTracingProvider(ctx, tc)
		if err != nil {
			return err
		}
		s.tracing = tp
		tracing = tp.Provider()
		s.Logger.Info("exporting telemetry", "endpoint", cfg.OTLPEndpoint)
	}

	gridMetrics, err := telemetry.NewGridMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create grid metrics: %w", err)
	}
	httpMetrics, err := telemetry.NewHTTPMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create http metrics: %w", err)
	}

	s.Stores = &store.Registry{}
	if opts.UseStores {
		regCfg := store.RegistryConfigFromConfig(cfg)
		regCfg.Migrate = opts.RunMigrations
		reg, err := store.NewRegistry(ctx, regCfg, s.Logger, meter)
		if err != nil {
			return fmt.Errorf("failed to connect storage: %w", err)
		}
		s.Stores = reg
	}
	if s.Stores.Results == nil && cfg.AggregateCacheTTL > 0 {
		s.Stores.Results = store.NewMemoryResultCache(memoryCacheEntries)
	}

	s.Health = health.NewChecker(cfg.Version)
	s.Health.Register("encoding", health.EncodingSelfCheck(), true)
	// A lost backend only takes the storage endpoints down.
	if s.Stores.Redis != nil {
		s.Health.Register("redis", health.Ping(s.Stores.Redis, 2*time.Second), false)
	}
	if s.Stores.Postgres != nil {
		s.Health.Register("postgres", health.Ping(s.Stores.Postgres, 2*time.Second), false)
	}

	handler := apihttp.NewHandler(
		filter.NewSynthesizer(gridMetrics),
		aggregate.New(s.Logger, gridMetrics),
		s.Stores,
		apihttp.SettingsFromConfig(cfg),
	)

	if cfg.AggregateRateLimit > 0 {
		rl := apihttp.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.AggregateRateLimit
		rl.BurstSize = cfg.AggregateBurst
		s.limiter = apihttp.NewRateLimiter(rl)
	}

	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jc := auth.DefaultJWTConfig()
		jc.Secret = cfg.JWTSecret
		jc.Issuer = cfg.JWTIssuer
		jc.Audience = cfg.JWTAudience
		if jwtManager, err = auth.NewJWTManager(jc); err != nil {
			return err
		}
	} else {
		s.Logger.Warn("JWT_SECRET unset, storage writes are unauthenticated")
	}

	s.Router = apihttp.NewRouter(handler, apihttp.RouterConfig{
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.AggregateTimeout + 5*time.Second,
		AggregateLimit: s.limiter,
		Auth:           jwtManager,
		Tracing:        tracing,
		Metrics:        httpMetrics,
		Health:         s.Health,
	}, s.Logger)
	s.Server = apihttp.NewServer(apihttp.ServerConfigFromConfig(cfg), s.Router, s.Logger)
	return nil
}

// Run serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.Server.Run(ctx)
}

// Close releases the storage connections and flushes telemetry.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.Stores != nil {
		if err := s.Stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
