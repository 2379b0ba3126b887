package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemHealth is the readiness report enriched with build metadata.
type SystemHealth struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}

// healthCollector is satisfied by repositories.ReadinessChecker.
type healthCollector interface {
	Collect(ctx context.Context) domain.HealthReport
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	Readiness healthCollector
	Clock     func() time.Time
	Build     BuildInfo
}

type systemService struct {
	readiness healthCollector
	clock     func() time.Time
	build     BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /healthz and /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Readiness == nil {
		return nil, errors.New("system service: readiness checker is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		readiness: deps.Readiness,
		clock: func() time.Time {
			return clock().UTC()
		},
		build: build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealth, error) {
	if ctx == nil {
		return SystemHealth{}, errors.New("system service: context is required")
	}

	report := s.readiness.Collect(ctx)
	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.HealthCheck{}
	}
	if strings.TrimSpace(string(report.Status)) == "" {
		report.Status = deriveStatus(report.Checks)
	}

	health := SystemHealth{
		HealthReport: report,
		Version:      s.build.Version,
		CommitSHA:    s.build.CommitSHA,
		Environment:  s.build.Environment,
	}
	if !s.build.StartedAt.IsZero() {
		health.Uptime = now.Sub(s.build.StartedAt)
	}
	return health, nil
}

func deriveStatus(checks map[string]domain.HealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
