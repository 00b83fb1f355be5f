package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusDraining  = "draining"
)

// checkTimeout bounds a whole health or readiness round.
const checkTimeout = 5 * time.Second

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a ping function, e.g. a redis or minio client's.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings the annotation store.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

type backend struct {
	name     string
	checker  HealthChecker
	required bool
}

// Checks is the set of backends the service reports on. Required backends
// (the store, the inspection lock) gate readiness; optional ones (artifact
// upload) only degrade /health. A nil *Checks has no backends.
type Checks struct {
	backends []backend
	draining atomic.Bool
}

func NewChecks() *Checks { return &Checks{} }

// Require registers a backend that saves and detection runs cannot work without.
func (c *Checks) Require(name string, hc HealthChecker) {
	c.backends = append(c.backends, backend{name: name, checker: hc, required: true})
}

// Optional registers a backend whose failure degrades but does not stop the service.
func (c *Checks) Optional(name string, hc HealthChecker) {
	c.backends = append(c.backends, backend{name: name, checker: hc})
}

// Get returns the checker registered under name.
func (c *Checks) Get(name string) (HealthChecker, bool) {
	if c == nil {
		return nil, false
	}
	for _, p := range c.backends {
		if p.name == name {
			return p.checker, true
		}
	}
	return nil, false
}

// Names lists registered backends in sorted order.
func (c *Checks) Names() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.backends))
	for _, p := range c.backends {
		out = append(out, p.name)
	}
	sort.Strings(out)
	return out
}

// Drain marks the process as shutting down. Readiness fails from then on
// while liveness keeps answering.
func (c *Checks) Drain() {
	if c != nil {
		c.draining.Store(true)
	}
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus represents individual check status
type CheckStatus struct {
	Status   string `json:"status"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
}

// run checks backends concurrently. With requiredOnly, optional ones are skipped.
func (c *Checks) run(ctx context.Context, requiredOnly bool) HealthStatus {
	health := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckStatus),
	}
	if c == nil {
		return health
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make([]error, len(c.backends))
	var g errgroup.Group
	for i, p := range c.backends {
		if requiredOnly && !p.required {
			continue
		}
		g.Go(func() error {
			results[i] = p.checker.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range c.backends {
		if requiredOnly && !p.required {
			continue
		}
		if err := results[i]; err != nil {
			health.Checks[p.name] = CheckStatus{Status: StatusUnhealthy, Required: p.required, Message: err.Error()}
			switch {
			case p.required:
				health.Status = StatusUnhealthy
			case health.Status == StatusHealthy:
				health.Status = StatusDegraded
			}
			continue
		}
		health.Checks[p.name] = CheckStatus{Status: StatusHealthy, Required: p.required}
	}
	return health
}

// HealthHandler reports every backend. Only a failing required backend
// answers 503; a failing optional one reports "degraded" with 200.
func HealthHandler(c *Checks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := c.run(r.Context(), false)
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeHealth(w, statusCode, health)
	}
}

// ReadinessHandler answers 200 only when the process accepts traffic: not
// draining and every required backend reachable.
func ReadinessHandler(c *Checks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c != nil && c.draining.Load() {
			writeHealth(w, http.StatusServiceUnavailable, HealthStatus{
				Status:    StatusDraining,
				Timestamp: time.Now().UTC(),
				Checks:    map[string]CheckStatus{},
			})
			return
		}
		health := c.run(r.Context(), true)
		statusCode := http.StatusOK
		if health.Status != StatusHealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeHealth(w, statusCode, health)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, health HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
