package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != string(domain.HealthStatusOK) {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" || body["commitSha"] != "abc123" || body["environment"] != "prod" {
		t.Fatalf("unexpected build metadata %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	cases := []struct {
		name    string
		report  services.SystemHealth
		err     error
		status  int
		details int
	}{
		{
			name: "healthy",
			report: services.SystemHealth{HealthReport: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"orders": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded stays in rotation",
			report: services.SystemHealth{HealthReport: domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"redis": {Status: domain.HealthStatusDegraded, Error: "slow"},
				},
			}},
			status:  http.StatusOK,
			details: 1,
		},
		{
			name: "error",
			report: services.SystemHealth{HealthReport: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{
					"orders": {Status: domain.HealthStatusError, Error: "connection refused"},
				},
			}},
			status:  http.StatusServiceUnavailable,
			details: 1,
		},
		{
			name:    "service failure",
			err:     errors.New("context is required"),
			status:  http.StatusServiceUnavailable,
			details: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report, err: tc.err}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			details, _ := body["details"].([]any)
			if len(details) != tc.details {
				t.Fatalf("expected %d details, got %v", tc.details, details)
			}
		})
	}
}
