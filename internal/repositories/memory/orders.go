package memory

import (
	"context"
	"maps"
	"sort"
	"strings"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/pagination"
	"github.com/loomline/api/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	key := strings.TrimSpace(order.CheckoutKey)
	if order.ID == "" || key == "" {
		return repositories.NewConflictError("orders.insert", "order id and checkout key are required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.checkoutKeys[key]; taken {
		return repositories.NewConflictError("orders.insert", "checkout key "+key+" already used")
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", "order "+order.ID+" already exists")
	}
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.checkoutKeys[key] = order.ID
	r.s.onRollback(ctx, func() {
		delete(r.s.orders, order.ID)
		delete(r.s.checkoutKeys, key)
	})
	return nil
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.orders[order.ID]
	if !ok {
		return repositories.NewNotFoundError("orders.update", "order", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.onRollback(ctx, func() { r.s.orders[order.ID] = prev })
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", "order", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) FindByCheckoutKey(_ context.Context, key string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.checkoutKeys[strings.TrimSpace(key)]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_key", "checkout key", key)
	}
	return cloneOrder(r.s.orders[id]), nil
}

func (r orderRepo) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := repositories.DecodeOrderCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(pager.PageSize)

	r.s.mu.Lock()
	var matched []domain.Order
	for _, order := range r.s.orders {
		if order.UserID == userID && cursor.After(order.CreatedAt, order.ID) {
			matched = append(matched, cloneOrder(order))
		}
	}
	r.s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		token, err := repositories.EncodeOrderCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func cloneOrder(o domain.Order) domain.Order {
	out := o
	out.Items = make([]domain.OrderLineItem, len(o.Items))
	for i, item := range o.Items {
		item.Customization = maps.Clone(item.Customization)
		out.Items[i] = item
	}
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		out.ShippingAddress = &addr
	}
	return out
}
