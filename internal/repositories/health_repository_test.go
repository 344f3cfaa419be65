package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(func() time.Time { return now },
		DependencyCheck{Name: "firestore", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestDependencyHealthRepositoryDegradedAndTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(nil,
		DependencyCheck{Name: "firestore", Check: func(context.Context) error { return errors.New("boom") }},
		DependencyCheck{Name: "redis", Timeout: 5 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Checks["firestore"].Status != domain.HealthStatusDegraded {
		t.Fatalf("expected firestore degraded, got %s", report.Checks["firestore"].Status)
	}
	if report.Checks["redis"].Status != domain.HealthStatusError {
		t.Fatalf("expected redis error, got %s", report.Checks["redis"].Status)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected overall error, got %s", report.Status)
	}
}

func TestNewDependencyHealthRepositoryRejectsUnnamedCheck(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil, DependencyCheck{Check: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for unnamed check")
	}
}
