package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/services"
)

var errNotImplemented = errors.New("not implemented")

type stubCartService struct {
	getFunc    func(ctx context.Context, userID string) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	updateFunc func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error)
	removeFunc func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return services.CartView{}, services.ErrCartUnavailable
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Cart{}, errNotImplemented
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.Cart{}, errNotImplemented
}

type stubCouponService struct {
	applyFunc func(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error)
}

func (s *stubCouponService) ApplyToCart(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
	if s.applyFunc != nil {
		return s.applyFunc(ctx, cmd)
	}
	return services.Cart{}, errNotImplemented
}

type stubCheckoutService struct {
	placeFunc func(ctx context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, errNotImplemented
}

type stubOrderService struct {
	getFunc        func(ctx context.Context, orderID, userID string) (services.Order, error)
	listFunc       func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	transitionFunc func(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error)
	returnFunc     func(step string, cmd services.ReturnLineCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, userID string) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID, userID)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID, pager)
	}
	return domain.CursorPage[services.Order]{}, errNotImplemented
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) RequestReturn(_ context.Context, cmd services.ReturnLineCommand) (services.Order, error) {
	return s.returnStep("request", cmd)
}

func (s *stubOrderService) ReviewReturn(_ context.Context, cmd services.ReturnLineCommand) (services.Order, error) {
	return s.returnStep("review", cmd)
}

func (s *stubOrderService) ResolveReturn(_ context.Context, cmd services.ReturnLineCommand) (services.Order, error) {
	return s.returnStep("resolve", cmd)
}

func (s *stubOrderService) returnStep(step string, cmd services.ReturnLineCommand) (services.Order, error) {
	if s.returnFunc != nil {
		return s.returnFunc(step, cmd)
	}
	return services.Order{}, errNotImplemented
}

type stubPaymentService struct {
	initiateFunc func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentSession, error)
	webhookFunc  func(ctx context.Context, payload string) (services.WebhookResult, error)
	expireFunc   func(ctx context.Context, olderThan time.Duration) (services.ExpireResult, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentSession, error) {
	if s.initiateFunc != nil {
		return s.initiateFunc(ctx, cmd)
	}
	return services.PaymentSession{}, errNotImplemented
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, payload string) (services.WebhookResult, error) {
	if s.webhookFunc != nil {
		return s.webhookFunc(ctx, payload)
	}
	return services.WebhookResult{}, errNotImplemented
}

func (s *stubPaymentService) ExpireStale(ctx context.Context, olderThan time.Duration) (services.ExpireResult, error) {
	if s.expireFunc != nil {
		return s.expireFunc(ctx, olderThan)
	}
	return services.ExpireResult{}, errNotImplemented
}

type stubInventoryService struct {
	stock map[services.VariantKey]int
}

func (s *stubInventoryService) Reserve(context.Context, services.VariantKey, int) (services.InventoryStock, error) {
	return services.InventoryStock{}, errNotImplemented
}

func (s *stubInventoryService) Release(context.Context, services.VariantKey, int) (services.InventoryStock, error) {
	return services.InventoryStock{}, errNotImplemented
}

func (s *stubInventoryService) Available(_ context.Context, key services.VariantKey) (services.InventoryStock, error) {
	available, ok := s.stock[key]
	if !ok {
		return services.InventoryStock{}, services.ErrStockNotFound
	}
	return services.InventoryStock{Key: key, Available: available}, nil
}

func (s *stubInventoryService) SetStock(_ context.Context, key services.VariantKey, available int) (services.InventoryStock, error) {
	if s.stock == nil {
		s.stock = map[services.VariantKey]int{}
	}
	s.stock[key] = available
	return services.InventoryStock{Key: key, Available: available}, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeResponse(t, rr)["error"].(string)
	return code
}
