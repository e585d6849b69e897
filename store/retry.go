package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/geosot/gridindex/errors"
)

// Backoff is a capped exponential retry policy.
type Backoff struct {
	// Attempts is the total number of tries; values below 1 mean one.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

var (
	redisBackoff = Backoff{
		Attempts: 4,
		Initial:  50 * time.Millisecond,
		Max:      2 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}
	postgresBackoff = Backoff{
		Attempts: 4,
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}
)

// Delay returns the pause before retry n (0-based), before jitter.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Factor, float64(n))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

func (b Backoff) jittered(n int) time.Duration {
	d := float64(b.Delay(n))
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// ExhaustedError reports a transient failure that outlasted the policy.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// retry calls fn until it succeeds, fails permanently per transient, the
// policy runs out or ctx ends.
func retry(ctx context.Context, b Backoff, transient func(error) bool, fn func(context.Context) error) error {
	_, err := retryValue(ctx, b, transient, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func retryValue[T any](ctx context.Context, b Backoff, transient func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(b.Attempts, 1)
	for n := 0; ; n++ {
		v, err := fn(ctx)
		if err == nil || !transient(err) {
			return v, err
		}
		if n+1 == attempts {
			return v, &ExhaustedError{Attempts: attempts, Err: err}
		}

		timer := time.NewTimer(b.jittered(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, fmt.Errorf("retry cancelled: %w", context.Cause(ctx))
		case <-timer.C:
		}
	}
}

// retryRedis retries fn with the Redis policy.
func retryRedis(ctx context.Context, fn func(context.Context) error) error {
	return retry(ctx, redisBackoff, transientRedis, fn)
}

// retryPostgres retries fn with the PostgreSQL policy.
func retryPostgres(ctx context.Context, fn func(context.Context) error) error {
	return retry(ctx, postgresBackoff, transientPostgres, fn)
}

// permanent reports errors that no backend retries: cancellations, request
// errors and misses.
func permanent(err error) bool {
	var appErr *apperrors.AppError
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &appErr) ||
		errors.Is(err, ErrKeyNotFound)
}

func transientNet(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Server replies Redis asks clients to repeat.
var redisBusyPrefixes = []string{"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN", "BUSY"}

func transientRedis(err error) bool {
	if err == nil || permanent(err) || errors.Is(err, redis.Nil) || errors.Is(err, redis.ErrClosed) {
		return false
	}
	for _, p := range redisBusyPrefixes {
		if redis.HasErrorPrefix(err, p) {
			return true
		}
	}
	var rErr redis.Error
	if errors.As(err, &rErr) {
		return false
	}
	return transientNet(err)
}

func transientPostgres(err error) bool {
	if err == nil || permanent(err) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, transaction rollback (serialization,
		// deadlock), insufficient resources, operator intervention
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return transientNet(err)
}
