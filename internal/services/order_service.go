package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/platform/pagination"
	"github.com/loomline/api/internal/repositories"
)

const orderStatusChangedEvent = "order.status.changed"

var (
	errOrderRepositoryRequired = errors.New("order service: order repository is required")
	errOrderInventoryRequired  = errors.New("order service: inventory service is required")
	errOrderClockRequired      = errors.New("order service: clock is required")
)

var (
	// ErrOrderInvalidInput indicates a malformed request.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderLineNotFound indicates the line index is out of range.
	ErrOrderLineNotFound = errors.New("order service: line not found")
	// ErrOrderInvalidTransition indicates the order cannot move to the requested state.
	ErrOrderInvalidTransition = errors.New("order service: invalid status transition")
	// ErrReturnInvalidState indicates the line is not in the state the return step expects.
	ErrReturnInvalidState = errors.New("order service: invalid return state")
	// ErrOrderConflict indicates the order is being modified concurrently.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderUnavailable indicates a backend failure.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPlaced:     {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps wires order lifecycle dependencies.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory InventoryService
	Events    OrderEventPublisher
	Locker    lock.Locker
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	events    OrderEventPublisher
	locker    lock.Locker
	now       func() time.Time
	logger    eventLogger
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Inventory == nil {
		return nil, errOrderInventoryRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}
	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		events:    deps.Events,
		locker:    lockerOrDefault(deps.Locker),
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

// GetOrder returns the order. A non-empty userID restricts the lookup to that owner.
func (s *orderService) GetOrder(ctx context.Context, orderID string, userID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, translateOrderError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && order.UserID != uid {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" || pager.PageSize < 0 {
		return domain.CursorPage[Order]{}, ErrOrderInvalidInput
	}
	page, err := s.orders.ListByUser(ctx, uid, pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, translateOrderError(err)
	}
	if page.Items == nil {
		page.Items = []Order{}
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	return s.transition(ctx, cmd.OrderID, userID, domain.OrderStatusCancelled)
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Target))))
	if target == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.transition(ctx, cmd.OrderID, "", target)
	if err == nil && strings.TrimSpace(cmd.ActorID) != "" {
		s.logger(ctx, "order.transitioned_by_staff", map[string]any{
			"orderID": order.ID,
			"actorID": cmd.ActorID,
			"status":  string(order.Status),
		})
	}
	return order, err
}

func (s *orderService) transition(ctx context.Context, orderID, ownerID string, target domain.OrderStatus) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, ErrOrderInvalidInput
	}
	// returned is reached only through ResolveReturn, which restocks each line as it resolves.
	if target == domain.OrderStatusReturned {
		return Order{}, fmt.Errorf("%w: an order is returned once every line's return is resolved", ErrOrderInvalidTransition)
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	order, err := s.GetOrder(ctx, id, ownerID)
	if err != nil {
		return Order{}, err
	}
	previous := order.Status
	if !CanTransition(previous, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, previous, target)
	}

	now := s.now()
	order.Status = target
	stampStatus(&order.Timestamps, target, now)
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, translateOrderError(err)
	}

	if target == domain.OrderStatusCancelled {
		for _, item := range order.Items {
			s.restock(ctx, order, item)
		}
	}
	s.publishStatusChange(ctx, order, previous)
	return order, nil
}

func (s *orderService) RequestReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return Order{}, ErrOrderInvalidInput
	}
	return s.updateLine(ctx, cmd, func(order *domain.Order, line *domain.OrderLineItem) error {
		if order.Status != domain.OrderStatusDelivered {
			return fmt.Errorf("%w: returns require a delivered order", ErrOrderInvalidTransition)
		}
		if line.ReturnState != "" && line.ReturnState != domain.ReturnNotRequested {
			return ErrReturnInvalidState
		}
		line.ReturnState = domain.ReturnRequested
		line.ReturnReason = strings.TrimSpace(cmd.Reason)
		return nil
	})
}

func (s *orderService) ReviewReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error) {
	return s.updateLine(ctx, cmd, func(_ *domain.Order, line *domain.OrderLineItem) error {
		if line.ReturnState != domain.ReturnRequested {
			return ErrReturnInvalidState
		}
		line.ReturnState = domain.ReturnInReview
		return nil
	})
}

// ResolveReturn completes the return of one line and restocks it. Once every line is resolved
// the order moves to returned.
func (s *orderService) ResolveReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error) {
	var resolved domain.OrderLineItem
	var previous domain.OrderStatus
	order, err := s.updateLine(ctx, cmd, func(order *domain.Order, line *domain.OrderLineItem) error {
		if line.ReturnState != domain.ReturnInReview {
			return ErrReturnInvalidState
		}
		line.ReturnState = domain.ReturnResolved
		resolved = *line
		previous = order.Status
		if allLinesResolved(order.Items) && CanTransition(order.Status, domain.OrderStatusReturned) {
			order.Status = domain.OrderStatusReturned
			stampStatus(&order.Timestamps, domain.OrderStatusReturned, s.now())
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.restock(ctx, order, resolved)
	if order.Status != previous {
		s.publishStatusChange(ctx, order, previous)
	}
	return order, nil
}

func (s *orderService) updateLine(ctx context.Context, cmd ReturnLineCommand, mutate func(order *domain.Order, line *domain.OrderLineItem) error) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" || cmd.Line < 0 {
		return Order{}, ErrOrderInvalidInput
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return Order{}, err
	}
	defer release()

	order, err := s.GetOrder(ctx, id, cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	if cmd.Line >= len(order.Items) {
		return Order{}, ErrOrderLineNotFound
	}
	order.Items = cloneOrderItems(order.Items)
	if err := mutate(&order, &order.Items[cmd.Line]); err != nil {
		return Order{}, err
	}
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, translateOrderError(err)
	}
	s.logger(ctx, "order.return_updated", map[string]any{
		"orderID": order.ID,
		"line":    cmd.Line,
		"state":   string(order.Items[cmd.Line].ReturnState),
	})
	return order, nil
}

func (s *orderService) lock(ctx context.Context, orderID string) (func(), error) {
	release, err := s.locker.Lock(ctx, "order:"+orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	return release, nil
}

// restock returns a line's quantity to the ledger after the order change committed.
func (s *orderService) restock(ctx context.Context, order domain.Order, item domain.OrderLineItem) {
	if item.Quantity <= 0 {
		return
	}
	if _, err := s.inventory.Release(context.WithoutCancel(ctx), item.Key(), item.Quantity); err != nil {
		s.logger(ctx, "order.restock_failed", map[string]any{
			"orderID":  order.ID,
			"key":      item.Key().String(),
			"quantity": item.Quantity,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publishStatusChange(ctx context.Context, order domain.Order, previous domain.OrderStatus) {
	s.logger(ctx, "order.status_changed", map[string]any{
		"orderID": order.ID,
		"from":    string(previous),
		"to":      string(order.Status),
	})
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           orderStatusChangedEvent,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		OccurredAt:     order.UpdatedAt,
	}
	if err := s.events.PublishOrderEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

func stampStatus(ts *domain.OrderTimestamps, status domain.OrderStatus, at time.Time) {
	stamp := at
	switch status {
	case domain.OrderStatusProcessing:
		ts.ProcessingAt = &stamp
	case domain.OrderStatusShipped:
		ts.ShippedAt = &stamp
	case domain.OrderStatusDelivered:
		ts.DeliveredAt = &stamp
	case domain.OrderStatusCancelled:
		ts.CancelledAt = &stamp
	case domain.OrderStatusReturned:
		ts.ReturnedAt = &stamp
	}
}

func allLinesResolved(items []domain.OrderLineItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if item.ReturnState != domain.ReturnResolved {
			return false
		}
	}
	return true
}

func translateOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
