package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/repositories"
)

type eventLogger func(context.Context, string, map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

func loggerOrNoop(logger func(context.Context, string, map[string]any)) eventLogger {
	if logger == nil {
		return noopLogger
	}
	return logger
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOfWorkOrNoop(uow repositories.UnitOfWork) repositories.UnitOfWork {
	if uow == nil {
		return noopUnitOfWork{}
	}
	return uow
}

func lockerOrDefault(locker lock.Locker) lock.Locker {
	if locker == nil {
		return lock.NewKeyedMutex()
	}
	return locker
}

// cartLockKey is shared by every operation that mutates a user's cart.
func cartLockKey(userID string) string {
	return "cart:" + userID
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dup := make(map[string]string, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	dup := make([]domain.CartItem, len(items))
	copy(dup, items)
	for i := range dup {
		dup[i].Customization = cloneStringMap(dup[i].Customization)
	}
	return dup
}

func cloneOrderItems(items []domain.OrderLineItem) []domain.OrderLineItem {
	if len(items) == 0 {
		return []domain.OrderLineItem{}
	}
	dup := make([]domain.OrderLineItem, len(items))
	copy(dup, items)
	for i := range dup {
		dup[i].Customization = cloneStringMap(dup[i].Customization)
	}
	return dup
}

func findLine(items []domain.CartItem, key domain.VariantKey) int {
	for i, item := range items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}
