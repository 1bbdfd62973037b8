package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds each readiness probe
const DefaultCheckTimeout = 5 * time.Second

// HealthChecker is a dependency probed by the readiness check
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

// CheckHealth calls f
func (f HealthCheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthImplementation implements the health service
type HealthImplementation struct {
	checks  map[string]HealthChecker
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthService creates a new health service implementation probing the
// given named dependencies on readiness
func NewHealthService(checks map[string]HealthChecker, logger *slog.Logger) *HealthImplementation {
	return &HealthImplementation{
		checks:  checks,
		timeout: DefaultCheckTimeout,
		logger:  logger.With("component", "health_service"),
	}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz implements the readiness probe. All dependencies are probed
// concurrently; any failure makes the service unready.
func (h *HealthImplementation) Readyz(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
		failed  bool
	)
	for name, check := range h.checks {
		g.Go(func() error {
			status := "ok"
			if err := check.CheckHealth(ctx); err != nil {
				h.logger.Warn("readiness check failed", "check", name, "error", err)
				status = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = status
			if status != "ok" {
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		return results, &UnavailableError{Message: "Service not ready", Checks: results}
	}
	return results, nil
}
