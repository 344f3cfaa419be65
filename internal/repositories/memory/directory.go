package memory

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type notificationRepo struct{ s *Store }

func (r notificationRepo) Insert(ctx context.Context, notification domain.Notification) error {
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = ulid.Make().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = r.s.now()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.notifications = append(r.s.notifications, notification)
	id := notification.ID
	r.s.onRollback(ctx, func() {
		for i, n := range r.s.notifications {
			if n.ID == id {
				r.s.notifications = append(r.s.notifications[:i], r.s.notifications[i+1:]...)
				return
			}
		}
	})
	return nil
}

type designerRepo struct{ s *Store }

func (r designerRepo) FindByID(_ context.Context, designerID string) (domain.Designer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	designer, ok := r.s.designers[designerID]
	if !ok {
		return domain.Designer{}, repositories.NewNotFoundError("designers.find", "designer", designerID)
	}
	return designer, nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) FindByID(_ context.Context, userID string) (domain.CustomerProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	profile, ok := r.s.profiles[userID]
	if !ok {
		return domain.CustomerProfile{}, repositories.NewNotFoundError("profiles.find", "profile", userID)
	}
	return profile, nil
}

type counterRepo struct{ s *Store }

// Next never rolls back; a failed unit leaves a gap in the sequence.
func (r counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}
