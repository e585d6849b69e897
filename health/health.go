// Package health reports whether gridd is alive and ready for traffic.
//
// Probes run concurrently on every readiness request. A failing critical
// probe takes the service out of rotation; any other failure only marks it
// degraded.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geosot/gridindex/gridcode"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a whole readiness run.
const DefaultTimeout = 5 * time.Second

// Probe reports a problem with one dependency.
type Probe func(ctx context.Context) error

type probe struct {
	name     string
	run      Probe
	critical bool
}

// Result is the outcome of one probe.
type Result struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Critical  bool    `json:"critical"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// Report is the body of the readiness endpoints.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Checks    []Result  `json:"checks"`
}

// Checker holds the registered probes. It is safe for concurrent use.
type Checker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	probes []probe
}

func NewChecker(version string) *Checker {
	return &Checker{version: version, started: time.Now(), timeout: DefaultTimeout}
}

// Register adds a probe. Names are reported as given; registering a name
// twice runs both probes.
func (c *Checker) Register(name string, p Probe, critical bool) {
	c.mu.Lock()
	c.probes = append(c.probes, probe{name: name, run: p, critical: critical})
	c.mu.Unlock()
}

// Run executes every probe and folds the results into one status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	probes := append([]probe(nil), c.probes...)
	c.mu.RUnlock()

	results := make([]Result, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			start := time.Now()
			err := p.run(ctx)
			results[i] = Result{
				Name:      p.name,
				Status:    StatusHealthy,
				Critical:  p.critical,
				LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				results[i].Status = StatusUnhealthy
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Status:    overall(results),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Checks:    results,
	}
}

func overall(results []Result) Status {
	s := StatusHealthy
	for _, r := range results {
		switch {
		case r.Status == StatusHealthy:
		case r.Critical:
			return StatusUnhealthy
		default:
			s = StatusDegraded
		}
	}
	return s
}

// Live answers 200 as long as the process serves HTTP.
func (c *Checker) Live() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// Ready runs the probes and answers 503 when the service is unhealthy.
// Degraded services stay ready.
func (c *Checker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.runWithTimeout(r.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// Details always answers 200 with the full report, for dashboards that
// should not treat an unhealthy service as a failed scrape.
func (c *Checker) Details() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.runWithTimeout(r.Context()))
	}
}

func (c *Checker) runWithTimeout(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Run(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Pinger is implemented by the storage clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes a backend with its own timeout.
func Ping(p Pinger, timeout time.Duration) Probe {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Ping(ctx)
	}
}

// selfCheckLon and selfCheckLat sit well inside a level 1 cell so the
// check never lands on a cell edge.
const selfCheckLon, selfCheckLat = 116.3912757, 39.9062170

// EncodingSelfCheck encodes a fixed point at every tagged level and checks
// that each cell holds the point and nests in the cell one level up.
func EncodingSelfCheck() Probe {
	return func(ctx context.Context) error {
		var errs []error
		var parent gridcode.Code2D
		for level := 0; level <= gridcode.MaxTaggedLevel; level++ {
			c, err := gridcode.Encode2D(selfCheckLon, selfCheckLat, level)
			if err != nil {
				return fmt.Errorf("encode at level %d: %w", level, err)
			}
			if !c.Bounds().ContainsPoint(gridcode.Decode2D(c)) {
				errs = append(errs, fmt.Errorf("level %d: origin outside cell", level))
			}
			if level > 0 && c.Position()&gridcode.PrefixMask(level-1) != parent.Position() {
				errs = append(errs, fmt.Errorf("level %d: not nested in parent", level))
			}
			parent = c
		}
		return errors.Join(errs...)
	}
}
