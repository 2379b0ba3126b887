package domain

import "time"

// HealthStatus grades a dependency check.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the outcome of one dependency check.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates every dependency check run for a readiness request.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
