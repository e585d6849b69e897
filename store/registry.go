// Package store persists cell sets and key indexes in Redis and PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/geosot/gridindex/config"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
)

// Registry holds the storage handles of one service instance. It is built
// once at startup and passed to whatever needs storage.
type Registry struct {
	Redis    *RedisClient
	Postgres *PostgresClient

	Cells     *CellStore
	RedisKeys *RedisKeyIndex
	Index     *PostgresIndex

	// Results caches aggregation results. Nil disables caching.
	Results ResultCache
}

// RegistryConfig selects and configures the backends. Empty addresses
// disable a backend.
type RegistryConfig struct {
	Redis         RedisConfig
	CellKeyPrefix string

	Postgres    PostgresConfig
	IndexTable  string
	IndexColumn string
	Migrate     bool
}

// RegistryConfigFromConfig maps the service configuration.
func RegistryConfigFromConfig(cfg *config.Config) RegistryConfig {
	redisCfg := DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisHost
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB
	redisCfg.TLS = cfg.RedisTLS
	redisCfg.URL = cfg.RedisURL

	pgCfg := DefaultPostgresConfig()
	pgCfg.DSN = cfg.PostgresDSN

	return RegistryConfig{
		Redis:         redisCfg,
		CellKeyPrefix: cfg.CellKeyPrefix,
		Postgres:      pgCfg,
		IndexTable:    cfg.IndexTable,
		IndexColumn:   cfg.IndexColumn,
		Migrate:       true,
	}
}

// NewRegistry connects the configured backends.
func NewRegistry(ctx context.Context, cfg RegistryConfig, logger *logging.Logger, meter metric.Meter) (*Registry, error) {
	reg := &Registry{}

	if cfg.Redis.Enabled() {
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		metrics, err := telemetry.NewStoreMetrics(meter, "redis")
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create redis metrics: %w", err)
		}
		reg.Redis = client
		reg.Cells = NewCellStore(client, cfg.CellKeyPrefix, metrics)
		reg.RedisKeys = NewRedisKeyIndex(client, cfg.CellKeyPrefix+"index", metrics)
		reg.Results = NewRedisResultCache(client, cfg.CellKeyPrefix+"aggregate:", metrics)
		logger.Info("connected to redis", "addr", cfg.Redis.Target())
	}

	if cfg.Postgres.DSN != "" {
		client, err := NewPostgresClient(ctx, cfg.Postgres)
		if err != nil {
			reg.Close()
			return nil, err
		}
		reg.Postgres = client

		metrics, err := telemetry.NewStoreMetrics(meter, "postgres")
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("failed to create postgres metrics: %w", err)
		}
		index, err := NewPostgresIndex(client, cfg.IndexTable, cfg.IndexColumn, metrics)
		if err != nil {
			reg.Close()
			return nil, err
		}
		reg.Index = index

		if cfg.Migrate {
			m := NewMigrator(client)
			for _, mig := range index.Migrations() {
				m.AddMigration(mig)
			}
			n, err := m.Up(ctx)
			if err != nil {
				reg.Close()
				return nil, err
			}
			logger.Info("connected to postgres", "table", cfg.IndexTable, "migrations_applied", n)
		}
	}

	return reg, nil
}

// KeyIndex returns the preferred key index: PostgreSQL when configured,
// else Redis, else nil.
func (r *Registry) KeyIndex() KeyIndex {
	switch {
	case r.Index != nil:
		return r.Index
	case r.RedisKeys != nil:
		return r.RedisKeys
	default:
		return nil
	}
}

// Close closes all connections.
func (r *Registry) Close() error {
	var firstErr error
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Postgres != nil {
		if err := r.Postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HealthCheck pings every connected backend.
func (r *Registry) HealthCheck(ctx context.Context, timeout time.Duration) map[string]error {
	results := make(map[string]error)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.Redis != nil {
		results["redis"] = r.Redis.Ping(ctx)
	}
	if r.Postgres != nil {
		results["postgres"] = r.Postgres.Ping(ctx)
	}
	return results
}
