package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type cartRepo struct{ s *Store }

func (r cartRepo) FindByUser(_ context.Context, userID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[strings.TrimSpace(userID)]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("carts.find_by_user", "cart for user", userID)
	}
	return cloneCart(cart), nil
}

func (r cartRepo) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cart := range r.s.carts {
		if cart.ID == cartID {
			return cloneCart(cart), nil
		}
	}
	return domain.Cart{}, repositories.NewNotFoundError("carts.find", "cart", cartID)
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" || strings.TrimSpace(cart.ID) == "" {
		return domain.Cart{}, repositories.NewConflictError("carts.save", "cart id and user id are required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, existed := r.s.carts[userID]
	var current int64
	if existed {
		current = prev.Version
	}
	if current != expectedVersion {
		return domain.Cart{}, repositories.NewConflictError("carts.save", fmt.Sprintf("cart version is %d, expected %d", current, expectedVersion))
	}
	saved := cloneCart(cart)
	saved.Version = expectedVersion + 1
	r.s.carts[userID] = saved
	r.s.onRollback(ctx, func() {
		if existed {
			r.s.carts[userID] = prev
		} else {
			delete(r.s.carts, userID)
		}
	})
	return cloneCart(saved), nil
}

func cloneCart(c domain.Cart) domain.Cart {
	out := c
	out.Items = make([]domain.CartItem, len(c.Items))
	for i, item := range c.Items {
		item.Customization = maps.Clone(item.Customization)
		out.Items[i] = item
	}
	return out
}
