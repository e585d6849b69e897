package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
	"github.com/geosot/gridindex/telemetry"
)

// ErrKeyNotFound is returned by the raw client when a key is missing.
var ErrKeyNotFound = errors.New("key not found")

// RedisConfig addresses one Redis server. URL, when set, is parsed with
// redis.ParseURL and takes precedence over Addr, Password, DB and TLS; the
// pool and timeout fields apply either way.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int
	TLS      bool

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Enabled reports whether a server is configured at all.
func (c RedisConfig) Enabled() bool { return c.URL != "" || c.Addr != "" }

// Target is the server address for logs, without credentials.
func (c RedisConfig) Target() string {
	if c.URL == "" {
		return c.Addr
	}
	if opts, err := redis.ParseURL(c.URL); err == nil {
		return opts.Addr
	}
	return "invalid url"
}

func (c RedisConfig) options() (*redis.Options, error) {
	opts := &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.URL != "" {
		var err error
		if opts, err = redis.ParseURL(c.URL); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	return opts, nil
}

// RedisClient is the connection shared by the Redis-backed stores.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects and pings under the Redis retry policy, so a
// server that is still loading its dataset is waited for.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := retryRedis(ctx, ping); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", opts.Addr, err)
	}
	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Client() *redis.Client { return r.client }

func (r *RedisClient) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisClient) Close() error { return r.client.Close() }

// GetBytes returns ErrKeyNotFound for a missing key.
func (r *RedisClient) GetBytes(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return b, err
}

// SetBytes stores value; a zero ttl never expires.
func (r *RedisClient) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// Exists counts how many of keys are present.
func (r *RedisClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Exists(ctx, keys...).Result()
}

// CellStore keeps named cell sets in Redis as concatenated binary records.
type CellStore struct {
	client  *RedisClient
	prefix  string
	metrics *telemetry.StoreMetrics
}

// NewCellStore creates a CellStore. Keys are prefix+name.
func NewCellStore(client *RedisClient, prefix string, metrics *telemetry.StoreMetrics) *CellStore {
	return &CellStore{client: client, prefix: prefix, metrics: metrics}
}

func (s *CellStore) key(name string) string {
	return s.prefix + name
}

func (s *CellStore) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapStoreOperation(ctx, "redis", op, s.prefix, fn)
	s.metrics.RecordOperation(ctx, op, time.Since(start), err)
	return err
}

// Save normalizes cells and stores them under name. A zero ttl keeps the
// set until it is deleted.
func (s *CellStore) Save(ctx context.Context, name string, cells []gridset.Cell2D, ttl time.Duration) error {
	b, err := MarshalCells2D(cells)
	if err != nil {
		return err
	}
	return s.observe(ctx, "save", func(ctx context.Context) error {
		return retryRedis(ctx, func(ctx context.Context) error {
			return s.client.SetBytes(ctx, s.key(name), b, ttl)
		})
	})
}

// Save3D normalizes 3D cells and stores them under name.
func (s *CellStore) Save3D(ctx context.Context, name string, cells []gridset.Cell3D, ttl time.Duration) error {
	b, err := MarshalCells3D(cells)
	if err != nil {
		return err
	}
	return s.observe(ctx, "save", func(ctx context.Context) error {
		return retryRedis(ctx, func(ctx context.Context) error {
			return s.client.SetBytes(ctx, s.key(name), b, ttl)
		})
	})
}

func (s *CellStore) load(ctx context.Context, name string) ([]byte, error) {
	var b []byte
	err := s.observe(ctx, "load", func(ctx context.Context) error {
		var err error
		b, err = retryValue(ctx, redisBackoff, transientRedis, func(ctx context.Context) ([]byte, error) {
			return s.client.GetBytes(ctx, s.key(name))
		})
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, apperrors.NotFound("cell set " + name)
	}
	return b, err
}

// Load returns the 2D set stored under name.
func (s *CellStore) Load(ctx context.Context, name string) ([]gridset.Cell2D, error) {
	b, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return UnmarshalCells2D(b)
}

// Load3D returns the 3D set stored under name.
func (s *CellStore) Load3D(ctx context.Context, name string) ([]gridset.Cell3D, error) {
	b, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return UnmarshalCells3D(b)
}

// Delete removes the set stored under name.
func (s *CellStore) Delete(ctx context.Context, name string) error {
	return s.observe(ctx, "delete", func(ctx context.Context) error {
		return s.client.Delete(ctx, s.key(name))
	})
}

// Exists reports whether a set is stored under name.
func (s *CellStore) Exists(ctx context.Context, name string) (bool, error) {
	var n int64
	err := s.observe(ctx, "exists", func(ctx context.Context) error {
		var err error
		n, err = s.client.Exists(ctx, s.key(name))
		return err
	})
	return n > 0, err
}

// MarshalCells2D normalizes cells and concatenates their binary records.
func MarshalCells2D(cells []gridset.Cell2D) ([]byte, error) {
	cells = gridset.Normalize2D(append([]gridset.Cell2D(nil), cells...))
	out := make([]byte, 0, len(cells)*gridcode.Record2DSize)
	for _, c := range cells {
		b, err := c.Record().MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// MarshalCells3D normalizes cells and concatenates their binary records.
func MarshalCells3D(cells []gridset.Cell3D) ([]byte, error) {
	cells = gridset.Normalize3D(append([]gridset.Cell3D(nil), cells...))
	out := make([]byte, 0, len(cells)*gridcode.Record3DSize)
	for _, c := range cells {
		b, err := c.Record().MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// UnmarshalCells2D decodes a record stream that must hold only 2D records.
func UnmarshalCells2D(b []byte) ([]gridset.Cell2D, error) {
	recs, err := gridcode.SplitRecords(b)
	if err != nil {
		return nil, err
	}
	cells := make([]gridset.Cell2D, 0, len(recs))
	for _, rec := range recs {
		r, ok := rec.(gridcode.Record2D)
		if !ok {
			return nil, apperrors.TypeMismatch(fmt.Sprintf("%s record in a 2D cell set", rec.Dimension()))
		}
		cells = append(cells, gridset.Cell2D{Code: r.Code, LevelMin: r.LevelMin})
	}
	return cells, nil
}

// UnmarshalCells3D decodes a record stream that must hold only 3D records.
func UnmarshalCells3D(b []byte) ([]gridset.Cell3D, error) {
	recs, err := gridcode.SplitRecords(b)
	if err != nil {
		return nil, err
	}
	cells := make([]gridset.Cell3D, 0, len(recs))
	for _, rec := range recs {
		r, ok := rec.(gridcode.Record3D)
		if !ok {
			return nil, apperrors.TypeMismatch(fmt.Sprintf("%s record in a 3D cell set", rec.Dimension()))
		}
		cells = append(cells, gridset.Cell3D{Code: r.Code, Level: r.Level})
	}
	return cells, nil
}
