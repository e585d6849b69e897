package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points ENV_FILE at a file that does not exist so a stray .env in
// the package directory cannot leak into the tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load("gridd")
	require.NoError(t, err)

	assert.Equal(t, "gridd", cfg.ServiceName)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.OTLPInsecure)
	assert.Equal(t, 1.0, cfg.TraceSampleRate)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestLoad_GridDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("gridd")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.AggregateLevelMin)
	assert.Equal(t, 15, cfg.AggregateLevelMax)
	assert.Equal(t, 4.0, cfg.DensityThreshold)
	assert.Equal(t, 100000, cfg.AggregateMaxCells)
	assert.Equal(t, 30*time.Second, cfg.AggregateTimeout)
	assert.Equal(t, int64(4<<20), cfg.MaxGeometryBodySize)
	assert.Equal(t, 16, cfg.FilterMaxLevel)
	assert.Equal(t, 64, cfg.FilterMaxNodes)
	assert.Equal(t, 30, cfg.FilterMaxTerms)
	assert.Equal(t, 500.0, cfg.FilterThreshold)
	assert.Nil(t, cfg.FilterWeights)
	assert.Equal(t, "grid_index", cfg.IndexTable)
	assert.Equal(t, "cell_key", cfg.IndexColumn)
	assert.Equal(t, "cells:", cfg.CellKeyPrefix)
	assert.Equal(t, 2.0, cfg.AggregateRateLimit)
	assert.Equal(t, 10, cfg.AggregateBurst)
	assert.Empty(t, cfg.RedisHost, "storage backends are opt-in")
	assert.Empty(t, cfg.PostgresDSN)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 10*time.Minute, cfg.AggregateCacheTTL)
	assert.Zero(t, cfg.CellSetTTL)
}

func TestLoad_Overrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9000")
	t.Setenv("AGGREGATE_LEVEL_MIN", "12")
	t.Setenv("AGGREGATE_LEVEL_MAX", "18")
	t.Setenv("AGGREGATE_TIMEOUT", "5s")
	t.Setenv("AGGREGATE_CACHE_TTL", "0s")
	t.Setenv("CELL_SET_TTL", "24h")
	t.Setenv("FILTER_WEIGHTS", "1, 0.25,0.25,1")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.1")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load("gridd")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 12, cfg.AggregateLevelMin)
	assert.Equal(t, 18, cfg.AggregateLevelMax)
	assert.Equal(t, 5*time.Second, cfg.AggregateTimeout)
	assert.Zero(t, cfg.AggregateCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.CellSetTTL)
	assert.Equal(t, []float64{1, 0.25, 0.25, 1}, cfg.FilterWeights)
	assert.Equal(t, 0.1, cfg.TraceSampleRate)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_PostgresDSN(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		legacy  string
		want    string
	}{
		{"unset", "", "", ""},
		{"legacy only", "", "postgres://legacy/grid", "postgres://legacy/grid"},
		{"primary wins", "postgres://primary/grid", "postgres://legacy/grid", "postgres://primary/grid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv("POSTGRES_DSN", tt.primary)
			t.Setenv("DATABASE_URL", tt.legacy)

			cfg, err := Load("gridd")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.PostgresDSN)
		})
	}
}

func TestLoad_Production(t *testing.T) {
	isolate(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CORS_ORIGINS", "https://maps.example.com, ,https://ops.example.com")

	cfg, err := Load("gridd")
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.OTLPInsecure, "production exports over TLS unless told otherwise")
	assert.Equal(t, []string{"https://maps.example.com", "https://ops.example.com"}, cfg.CORSOrigins)
}

func TestLoad_ProductionNoOrigins(t *testing.T) {
	isolate(t)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("gridd")
	require.NoError(t, err)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{
			name: "inverted level range",
			env:  map[string]string{"AGGREGATE_LEVEL_MIN": "20", "AGGREGATE_LEVEL_MAX": "10"},
			want: []string{"AGGREGATE_LEVEL_MIN 20 is above AGGREGATE_LEVEL_MAX 10"},
		},
		{
			name: "malformed values are all reported",
			env:  map[string]string{"PORT": "http", "AGGREGATE_TIMEOUT": "soon", "OTEL_EXPORTER_OTLP_INSECURE": "maybe"},
			want: []string{`PORT="http"`, `AGGREGATE_TIMEOUT="soon"`, `OTEL_EXPORTER_OTLP_INSECURE="maybe"`},
		},
		{
			name: "bad weight",
			env:  map[string]string{"FILTER_WEIGHTS": "1,heavy"},
			want: []string{`FILTER_WEIGHTS element "heavy"`},
		},
		{
			name: "sample rate",
			env:  map[string]string{"OTEL_TRACES_SAMPLER_ARG": "2"},
			want: []string{"OTEL_TRACES_SAMPLER_ARG 2 outside [0,1]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("gridd")
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.env")
	content := "FILTER_MAX_TERMS=12\nLOG_LEVEL=warn\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")
	// godotenv writes into the process environment
	t.Cleanup(func() { os.Unsetenv("FILTER_MAX_TERMS") })

	cfg, err := Load("gridd")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.FilterMaxTerms, "value from the env file")
	assert.Equal(t, "debug", cfg.LogLevel, "the environment wins over the file")
}

func TestLoad_UnreadableEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir())

	_, err := Load("gridd")
	assert.Error(t, err, "a directory is not an env file")
}

func TestMustLoad(t *testing.T) {
	isolate(t)
	assert.NotPanics(t, func() { MustLoad("gridd") })

	t.Setenv("PORT", "eighty")
	assert.Panics(t, func() { MustLoad("gridd") })
}
