package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/telemetry"
)

// Entry is one indexed object: an id and the level 32 key of its location
// within an index extent.
type Entry struct {
	ID  string `json:"id" validate:"required"`
	Key uint64 `json:"key"`
}

// NewEntry encodes (lon, lat) against extent.
func NewEntry(extent geo.Rect, id string, lon, lat float64) (Entry, error) {
	key, err := filter.EncodePoint(extent, lon, lat)
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: id, Key: key}, nil
}

// Hit is an entry matched by a filter. Exact hits need no geometry recheck.
type Hit struct {
	Entry
	Exact bool `json:"exact"`
}

// KeyIndex stores entries and answers filter queries over their keys.
type KeyIndex interface {
	Add(ctx context.Context, entries ...Entry) error
	Query(ctx context.Context, f *filter.Filter) ([]Hit, error)
}

// classify keeps the entries f matches, once each.
func classify(f *filter.Filter, entries []Entry) []Hit {
	seen := make(map[Entry]struct{}, len(entries))
	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		matched, exact := f.Match(e.Key)
		if !matched {
			continue
		}
		hits = append(hits, Hit{Entry: e, Exact: exact})
	}
	return hits
}

// RedisKeyIndex keeps entries in one sorted set with equal scores, so that
// members sort lexicographically by their fixed-width hex key.
type RedisKeyIndex struct {
	client  *RedisClient
	key     string
	metrics *telemetry.StoreMetrics
}

// NewRedisKeyIndex creates an index stored under the Redis key key.
func NewRedisKeyIndex(client *RedisClient, key string, metrics *telemetry.StoreMetrics) *RedisKeyIndex {
	return &RedisKeyIndex{client: client, key: key, metrics: metrics}
}

func (x *RedisKeyIndex) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapStoreOperation(ctx, "redis", op, x.key, fn)
	x.metrics.RecordOperation(ctx, op, time.Since(start), err)
	return err
}

func member(e Entry) string {
	return fmt.Sprintf("%016x:%s", e.Key, e.ID)
}

func parseMember(m string) (Entry, error) {
	hex, id, ok := strings.Cut(m, ":")
	if !ok {
		return Entry{}, apperrors.Validation(fmt.Sprintf("malformed index member %q", m))
	}
	key, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return Entry{}, apperrors.Validation(fmt.Sprintf("malformed index member %q", m))
	}
	return Entry{ID: id, Key: key}, nil
}

// lexRange returns the ZRANGEBYLEX bounds covering keys lo through hi.
// ';' sorts right after ':', so "(<hi>;" admits every id stored at hi.
func lexRange(lo, hi uint64) *redis.ZRangeBy {
	return &redis.ZRangeBy{
		Min: fmt.Sprintf("[%016x", lo),
		Max: fmt.Sprintf("(%016x;", hi),
	}
}

// Add inserts entries.
func (x *RedisKeyIndex) Add(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{Member: member(e)}
	}
	return x.observe(ctx, "add", func(ctx context.Context) error {
		return retryRedis(ctx, func(ctx context.Context) error {
			return x.client.client.ZAdd(ctx, x.key, members...).Err()
		})
	})
}

// Remove deletes entries.
func (x *RedisKeyIndex) Remove(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]interface{}, len(entries))
	for i, e := range entries {
		members[i] = member(e)
	}
	return x.observe(ctx, "remove", func(ctx context.Context) error {
		return x.client.client.ZRem(ctx, x.key, members...).Err()
	})
}

// Query runs one range scan per filter term in a single pipeline.
func (x *RedisKeyIndex) Query(ctx context.Context, f *filter.Filter) ([]Hit, error) {
	if len(f.Terms) == 0 {
		return nil, nil
	}
	var entries []Entry
	err := x.observe(ctx, "query", func(ctx context.Context) error {
		cmds, err := x.client.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, t := range f.Terms {
				p.ZRangeByLex(ctx, x.key, lexRange(t.Lo(), t.Hi()))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, cmd := range cmds {
			members, err := cmd.(*redis.StringSliceCmd).Result()
			if err != nil {
				return err
			}
			for _, m := range members {
				e, err := parseMember(m)
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return classify(f, entries), nil
}
