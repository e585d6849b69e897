package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/geosot/gridindex/aggregate"
	"github.com/geosot/gridindex/telemetry"
)

// ResultCache keeps encoded aggregation results keyed by request
// fingerprint. Get returns nil without error on a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisResultCache implements ResultCache on Redis.
type RedisResultCache struct {
	client  *RedisClient
	prefix  string
	metrics *telemetry.StoreMetrics
}

// NewRedisResultCache creates a Redis cache. Keys are prefix+key.
func NewRedisResultCache(client *RedisClient, prefix string, metrics *telemetry.StoreMetrics) *RedisResultCache {
	if prefix == "" {
		prefix = "aggregate:"
	}
	return &RedisResultCache{client: client, prefix: prefix, metrics: metrics}
}

func (c *RedisResultCache) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapStoreOperation(ctx, "redis", op, c.prefix, fn)
	c.metrics.RecordOperation(ctx, op, time.Since(start), err)
	return err
}

// Get retrieves a cached value.
func (c *RedisResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := c.observe(ctx, "cache_get", func(ctx context.Context) error {
		var err error
		val, err = c.client.GetBytes(ctx, c.prefix+key)
		return err
	})
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// Set stores a value with ttl.
func (c *RedisResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.observe(ctx, "cache_set", func(ctx context.Context) error {
		return c.client.SetBytes(ctx, c.prefix+key, value, ttl)
	})
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// MemoryResultCache implements ResultCache in process memory. A zero ttl
// never expires. When full, Set drops expired entries first and then
// arbitrary ones.
type MemoryResultCache struct {
	mu         sync.Mutex
	data       map[string]cacheEntry
	maxEntries int
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryResultCache creates an empty in-memory cache holding at most
// maxEntries values; maxEntries <= 0 means unbounded.
func NewMemoryResultCache(maxEntries int) *MemoryResultCache {
	return &MemoryResultCache{data: make(map[string]cacheEntry), maxEntries: maxEntries}
}

// Get retrieves a cached value.
func (c *MemoryResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value with ttl.
func (c *MemoryResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; !ok && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.evict()
	}
	c.data[key] = entry
	return nil
}

// evict frees at least one slot. Callers hold mu.
func (c *MemoryResultCache) evict() {
	now := time.Now()
	for k, e := range c.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
	for k := range c.data {
		if len(c.data) < c.maxEntries {
			return
		}
		delete(c.data, k)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// ResultKey fingerprints an aggregation request. Timeout and parallelism
// do not change a finished result and are left out.
func ResultKey(geometry []byte, opts aggregate.Options) string {
	h := sha256.New()
	h.Write(geometry)
	for _, v := range []string{
		strconv.Itoa(opts.LevelMin),
		strconv.Itoa(opts.LevelMax),
		strconv.FormatFloat(opts.DensityThreshold, 'g', -1, 64),
		strconv.Itoa(opts.MaxCells),
	} {
		h.Write([]byte{0})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cachedResult struct {
	Cells          []byte `json:"cells"`
	LevelMin       int    `json:"level_min"`
	Rounds         int    `json:"rounds"`
	PredicateCalls int    `json:"predicate_calls"`
}

// MarshalResult encodes an aggregation result for a ResultCache. Cells use
// the binary record format of MarshalCells2D.
func MarshalResult(res *aggregate.Result) ([]byte, error) {
	cells, err := MarshalCells2D(res.Cells)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cachedResult{
		Cells:          cells,
		LevelMin:       res.LevelMin,
		Rounds:         res.Rounds,
		PredicateCalls: res.PredicateCalls,
	})
}

// UnmarshalResult decodes a value written by MarshalResult.
func UnmarshalResult(b []byte) (*aggregate.Result, error) {
	var cr cachedResult
	if err := json.Unmarshal(b, &cr); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	cells, err := UnmarshalCells2D(cr.Cells)
	if err != nil {
		return nil, err
	}
	return &aggregate.Result{
		Cells:          cells,
		LevelMin:       cr.LevelMin,
		Rounds:         cr.Rounds,
		PredicateCalls: cr.PredicateCalls,
	}, nil
}
