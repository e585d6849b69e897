// Package config loads the gridd configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	// HTTP server
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string

	// Grace period for in-flight requests on shutdown
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string

	OTLPEndpoint string
	OTLPInsecure bool
	// Fraction of new traces to sample, 0 to 1
	TraceSampleRate float64

	// Write access; an empty secret leaves writes open
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Storage. A redis:// or rediss:// RedisURL overrides the host fields.
	RedisURL      string
	RedisHost     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	CellKeyPrefix string
	CellSetTTL    time.Duration
	PostgresDSN   string
	IndexTable    string
	IndexColumn   string

	// Aggregation defaults
	AggregateLevelMin   int
	AggregateLevelMax   int
	DensityThreshold    float64
	AggregateMaxCells   int
	AggregateTimeout    time.Duration
	AggregateParallel   int
	MaxGeometryBodySize int64
	AggregateRateLimit  float64
	AggregateBurst      int
	AggregateCacheTTL   time.Duration

	// Filter defaults
	FilterMaxLevel  int
	FilterMaxNodes  int
	FilterMaxTerms  int
	FilterThreshold float64
	FilterWeights   []float64
	CoverCells      int
}

// Load reads the configuration for serviceName. Variables from ENV_FILE
// (default .env) fill in whatever the environment leaves unset. Every
// malformed variable is reported in the returned error.
func Load(serviceName string) (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	var e env
	cfg := &Config{
		ServiceName: serviceName,
		Environment: e.str("ENVIRONMENT", "development"),
		Version:     e.str("VERSION", "0.0.1"),
	}
	prod := cfg.IsProduction()

	cfg.Port = e.num("PORT", 8080)
	cfg.ReadTimeout = e.duration("READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout = e.duration("WRITE_TIMEOUT", 60*time.Second)
	cfg.IdleTimeout = e.duration("IDLE_TIMEOUT", 60*time.Second)
	cfg.ShutdownTimeout = e.duration("SHUTDOWN_TIMEOUT", 30*time.Second)
	devOrigins := ""
	if cfg.IsDevelopment() {
		devOrigins = "http://localhost:3000,http://localhost:8080"
	}
	cfg.CORSOrigins = e.list("CORS_ORIGINS", devOrigins)

	cfg.LogLevel = e.str("LOG_LEVEL", "info")
	cfg.LogFormat = e.str("LOG_FORMAT", "json")
	cfg.OTLPEndpoint = e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.OTLPInsecure = e.flag("OTEL_EXPORTER_OTLP_INSECURE", !prod)
	cfg.TraceSampleRate = e.float("OTEL_TRACES_SAMPLER_ARG", 1)

	cfg.JWTSecret = e.str("JWT_SECRET", "")
	cfg.JWTIssuer = e.str("JWT_ISSUER", "gridd")
	cfg.JWTAudience = e.str("JWT_AUDIENCE", "gridd")

	cfg.RedisHost = e.str("REDIS_HOST", "")
	cfg.RedisPassword = e.str("REDIS_PASSWORD", "")
	cfg.RedisDB = e.num("REDIS_DB", 0)
	cfg.RedisTLS = e.flag("REDIS_TLS", false)
	cfg.RedisURL = e.str("REDIS_URL", "")
	cfg.CellKeyPrefix = e.str("CELL_KEY_PREFIX", "cells:")
	cfg.CellSetTTL = e.duration("CELL_SET_TTL", 0)
	cfg.PostgresDSN = e.str("POSTGRES_DSN", e.str("DATABASE_URL", ""))
	cfg.IndexTable = e.str("INDEX_TABLE", "grid_index")
	cfg.IndexColumn = e.str("INDEX_COLUMN", "cell_key")

	cfg.AggregateLevelMin = e.num("AGGREGATE_LEVEL_MIN", 9)
	cfg.AggregateLevelMax = e.num("AGGREGATE_LEVEL_MAX", 15)
	cfg.DensityThreshold = e.float("AGGREGATE_DENSITY_THRESHOLD", 4)
	cfg.AggregateMaxCells = e.num("AGGREGATE_MAX_CELLS", 100000)
	cfg.AggregateTimeout = e.duration("AGGREGATE_TIMEOUT", 30*time.Second)
	cfg.AggregateParallel = e.num("AGGREGATE_PARALLELISM", 4)
	cfg.MaxGeometryBodySize = int64(e.num("MAX_GEOMETRY_BYTES", 4<<20))
	cfg.AggregateRateLimit = e.float("AGGREGATE_RATE_LIMIT", 2)
	cfg.AggregateBurst = e.num("AGGREGATE_BURST", 10)
	cfg.AggregateCacheTTL = e.duration("AGGREGATE_CACHE_TTL", 10*time.Minute)

	cfg.FilterMaxLevel = e.num("FILTER_MAX_LEVEL", 16)
	cfg.FilterMaxNodes = e.num("FILTER_MAX_NODES", 64)
	cfg.FilterMaxTerms = e.num("FILTER_MAX_TERMS", 30)
	cfg.FilterThreshold = e.float("FILTER_THRESHOLD", 500)
	cfg.FilterWeights = e.floats("FILTER_WEIGHTS")
	cfg.CoverCells = e.num("FILTER_COVER_CELLS", 4)

	if cfg.AggregateLevelMin > cfg.AggregateLevelMax {
		e.fail(fmt.Errorf("AGGREGATE_LEVEL_MIN %d is above AGGREGATE_LEVEL_MAX %d",
			cfg.AggregateLevelMin, cfg.AggregateLevelMax))
	}
	if cfg.TraceSampleRate < 0 || cfg.TraceSampleRate > 1 {
		e.fail(fmt.Errorf("OTEL_TRACES_SAMPLER_ARG %v outside [0,1]", cfg.TraceSampleRate))
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad(serviceName string) *Config {
	cfg, err := Load(serviceName)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// env reads typed variables, collecting parse failures instead of
// stopping at the first one. Unset and empty variables take the default.
type env struct {
	errs []error
}

func (e *env) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parse[T any](e *env, key string, def T, conv func(string) (T, error)) T {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	out, err := conv(v)
	if err != nil {
		e.fail(fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return out
}

func (e *env) num(key string, def int) int {
	return parse(e, key, def, strconv.Atoi)
}

func (e *env) flag(key string, def bool) bool {
	return parse(e, key, def, strconv.ParseBool)
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	return parse(e, key, def, time.ParseDuration)
}

func (e *env) float(key string, def float64) float64 {
	return parse(e, key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// list splits a comma separated variable, or def when it is unset, and
// drops empty elements.
func (e *env) list(key, def string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, def), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// floats parses a comma separated list of numbers; unset yields nil.
func (e *env) floats(key string) []float64 {
	parts := e.list(key, "")
	if len(parts) == 0 {
		return nil
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			e.fail(fmt.Errorf("%s element %q: %w", key, p, err))
			return nil
		}
		out = append(out, f)
	}
	return out
}
