package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

func TestSystemServiceHealthReport(t *testing.T) {
	clock := newTestClock()
	started := clock.Now()
	var (
		events []string
		failed []string
	)
	health, err := repositories.NewDependencyHealthRepository(clock.Now,
		repositories.DependencyCheck{Name: "store", Check: func(context.Context) error { return nil }},
		repositories.DependencyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }},
	)
	if err != nil {
		t.Fatalf("health repository: %v", err)
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: health,
		Clock:            clock.Now,
		Build:            BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "test", StartedAt: started},
		Logger: func(_ context.Context, event string, fields map[string]any) {
			events = append(events, event)
			failed, _ = fields["failed"].([]string)
		},
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}

	clock.Advance(90 * time.Second)
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Checks["redis"].Detail != "dial tcp: refused" || report.Checks["store"].Status != domain.HealthStatusOK {
		t.Fatalf("unexpected checks %+v", report.Checks)
	}
	if report.Version != "1.2.3" || report.Uptime != 90*time.Second {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if len(events) != 1 || events[0] != "system.health_not_ok" || len(failed) != 1 || failed[0] != "redis" {
		t.Fatalf("expected degraded report to be logged, got %v %v", events, failed)
	}
}

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}
}
