package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/geosot/gridindex/errors"
)

// RateLimitConfig limits the expensive endpoints per client.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client. Zero grants each
	// client BurstSize requests and nothing after.
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc extracts the client key; ClientKey when nil.
	KeyFunc func(r *http.Request) string
	// CleanupInterval is how often refilled limiters are dropped; 0 disables
	// the sweep.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the limits applied to aggregation.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 2,
		BurstSize:         10,
		KeyFunc:           ClientKey,
		CleanupInterval:   time.Minute,
	}
}

// ClientKey keys a request by client host. RealIP runs before the limiter,
// so RemoteAddr already holds the forwarded address when there is one.
func ClientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	cfg   RateLimitConfig
	limit rate.Limit

	mu      sync.Mutex
	clients map[string]*rate.Limiter

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter starts the cleanup sweep when one is configured; Close
// stops it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey
	}
	rl := &RateLimiter{
		cfg:     cfg,
		limit:   rate.Limit(cfg.RequestsPerSecond),
		clients: make(map[string]*rate.Limiter),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go rl.sweep(cfg.CleanupInterval)
	}
	return rl
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.clients[key]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.cfg.BurstSize)
		rl.clients[key] = lim
	}
	return lim
}

// decision is the outcome of one request against its client's bucket.
type decision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

func (rl *RateLimiter) take(r *http.Request) decision {
	lim := rl.limiter(rl.cfg.KeyFunc(r))
	now := time.Now()
	d := decision{allowed: lim.AllowN(now, 1)}

	tokens := lim.TokensAt(now)
	d.remaining = max(int(tokens), 0)
	if !d.allowed && rl.limit > 0 {
		d.retryAfter = time.Duration((1 - tokens) / float64(rl.limit) * float64(time.Second))
	}
	return d
}

// Allow consumes a token for the request's client.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	return rl.take(r).allowed
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup forgets clients whose bucket has refilled; a fresh limiter
// behaves the same. Buckets that never refill are kept.
func (rl *RateLimiter) cleanup() {
	if rl.limit <= 0 {
		return
	}
	now := time.Now()
	full := float64(rl.cfg.BurstSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, lim := range rl.clients {
		if lim.TokensAt(now) >= full {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Close stops the cleanup sweep. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware answers 429 with Retry-After once a client is over its limit.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(rl.cfg.BurstSize)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := rl.take(r)
		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		if d.allowed {
			next.ServeHTTP(w, r)
			return
		}
		if d.retryAfter > 0 {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.retryAfter.Seconds()))))
		}
		apperrors.WriteErrorWithStatus(w, http.StatusTooManyRequests, apperrors.CodeRateLimited, "too many requests")
	})
}
