package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

const defaultCheckTimeout = 1500 * time.Millisecond

// Dependency names one backing dependency and how to reach it.
type Dependency struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ReadinessChecker checks every dependency concurrently and grades the result.
type ReadinessChecker struct {
	deps           []Dependency
	defaultTimeout time.Duration
	now            func() time.Time
}

// ReadinessOption customises a ReadinessChecker.
type ReadinessOption func(*ReadinessChecker)

// WithCheckTimeout overrides the timeout used by dependencies that omit their own.
func WithCheckTimeout(timeout time.Duration) ReadinessOption {
	return func(c *ReadinessChecker) {
		if timeout > 0 {
			c.defaultTimeout = timeout
		}
	}
}

// WithReadinessClock injects a clock for tests.
func WithReadinessClock(clock func() time.Time) ReadinessOption {
	return func(c *ReadinessChecker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewReadinessChecker validates the dependency set up front so Collect never sees a malformed entry.
func NewReadinessChecker(deps []Dependency, opts ...ReadinessOption) (*ReadinessChecker, error) {
	if len(deps) == 0 {
		return nil, errors.New("readiness: at least one dependency is required")
	}
	for _, dep := range deps {
		if strings.TrimSpace(dep.Name) == "" {
			return nil, errors.New("readiness: dependency missing name")
		}
		if dep.Check == nil {
			return nil, fmt.Errorf("readiness: dependency %s missing check function", dep.Name)
		}
	}
	checker := &ReadinessChecker{
		deps:           append([]Dependency(nil), deps...),
		defaultTimeout: defaultCheckTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(checker)
		}
	}
	return checker, nil
}

// Collect checks the dependencies and reports error when any timed out, degraded when any failed.
func (c *ReadinessChecker) Collect(ctx context.Context) domain.HealthReport {
	results := make(map[string]domain.HealthCheck, len(c.deps))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	wg.Add(len(c.deps))
	for _, dep := range c.deps {
		go func() {
			defer wg.Done()
			check := c.run(ctx, dep)
			mu.Lock()
			results[dep.Name] = check
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: c.now()}
}

func (c *ReadinessChecker) run(ctx context.Context, dep Dependency) domain.HealthCheck {
	timeout := dep.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := c.now()
	err := dep.Check(checkCtx)
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	end := c.now()

	result := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "timeout", err.Error()
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail, result.Error = domain.HealthStatusError, "cancelled", err.Error()
	default:
		result.Status, result.Detail, result.Error = domain.HealthStatusDegraded, err.Error(), err.Error()
	}
	return result
}
