package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// HealthRepository reports readiness of the backing stores.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// DependencyCheck probes a single backing dependency such as Firestore or Redis.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

type probeRunner struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewDependencyHealthRepository validates the checks and returns a HealthRepository running them in parallel.
func NewDependencyHealthRepository(now func() time.Time, checks ...DependencyCheck) (HealthRepository, error) {
	for i, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: check %s has no probe", check.Name)
		}
	}
	if now == nil {
		now = time.Now
	}
	return &probeRunner{checks: append([]DependencyCheck(nil), checks...), now: now}, nil
}

func (r *probeRunner) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	report := domain.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: make(map[string]domain.HealthCheck, len(r.checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range r.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			result := r.probe(ctx, check)
			mu.Lock()
			report.Checks[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	for _, result := range report.Checks {
		switch result.Status {
		case domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if report.Status == domain.HealthStatusOK {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *probeRunner) probe(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(probeCtx)
	end := r.now()

	result := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
