// Package health provides a registry of named dependency health checks
// (Postgres, ClickHouse, Redis) behind /health/ready.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/contextforge/contextforge/internal/metrics"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single dependency.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker is a function that checks the health of a dependency.
type Checker func(ctx context.Context) Status

// Ping adapts a ping function (sql.DB.PingContext, a Redis PING) into a
// Checker.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Name: name, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// SetTimeout changes the per-check timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// Names lists the registered dependencies in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.checkers))
	for i, nc := range r.checkers {
		names[i] = nc.name
	}
	return names
}

// CheckAll runs all registered checkers concurrently, each under its own
// timeout, and returns the aggregate health plus per-dependency results in
// registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))

	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = run(ctx, nc, timeout)
		}()
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, nc namedChecker, timeout time.Duration) Status {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Status, 1)
	go func() { done <- nc.check(cctx) }()

	var s Status
	select {
	case s = <-done:
	case <-cctx.Done():
		s = Status{Detail: "check timed out"}
	}
	s.Name = nc.name
	s.LatencyMS = time.Since(start).Milliseconds()

	up := 0.0
	if s.Healthy {
		up = 1
	}
	metrics.DependencyUp.WithLabelValues(nc.name).Set(up)
	return s
}
