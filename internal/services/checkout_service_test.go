package services

import (
	"context"
	"errors"
	"slices"
	"testing"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

func TestCheckoutServicePlacesOrderFromCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cart := env.fill250(t, "user-1")
	env.add(t, "user-1", keyCap, 1)
	if _, err := env.carts.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user-1", ProductID: "prod-cap", Color: "blue", Size: "OS"}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	result, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1", CartID: cart.ID, PaymentMethod: "card"})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	order := result.Order
	if result.Replayed {
		t.Fatal("first checkout must not be a replay")
	}
	if order.Subtotal != 250 || order.TaxAmount != 10 || order.ShippingCost != 20 || order.TotalAmount != 280 {
		t.Fatalf("unexpected order totals %+v", order)
	}
	if order.OrderNumber != "LL-2025-000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPlaced || order.Timestamps.PlacedAt.IsZero() {
		t.Fatalf("unexpected status %s", order.Status)
	}
	if len(order.Items) != 2 || order.Items[0].UnitPrice != 100 || order.Items[0].ReturnState != domain.ReturnNotRequested {
		t.Fatalf("unexpected order lines %+v", order.Items)
	}

	view, err := env.carts.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if !view.Cart.IsEmpty() || view.Cart.DiscountApplied || view.Cart.TotalAmount != 0 {
		t.Fatalf("expected cleared cart, got %+v", view.Cart)
	}
	if view.Cart.ID != cart.ID {
		t.Fatalf("cart id must survive checkout")
	}
	if got := env.stock(t, keyTeeM); got != 3 {
		t.Fatalf("checkout must not move stock, got %d", got)
	}

	if order.InvoiceURL != "https://cdn.example.com/invoices/"+order.ID+".html" {
		t.Fatalf("unexpected invoice url %q", order.InvoiceURL)
	}
	stored, err := env.orders.GetOrder(ctx, order.ID, "user-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.InvoiceURL != order.InvoiceURL {
		t.Fatalf("invoice url not persisted")
	}

	recipients := env.mailer.recipients()
	slices.Sort(recipients)
	if !slices.Equal(recipients, []string{"one@example.com", "sam@example.com"}) {
		t.Fatalf("unexpected email recipients %v", recipients)
	}
	if notes := env.store.NotificationsFor("designer-1"); len(notes) != 1 || notes[0].OrderID != order.ID {
		t.Fatalf("expected one designer notification, got %+v", notes)
	}
	if len(env.store.NotificationsFor("designer-2")) != 0 {
		t.Fatal("designer without lines in the order must not be notified")
	}
	if !slices.Equal(env.pusher.tokens, []string{"device-1"}) {
		t.Fatalf("unexpected push tokens %v", env.pusher.tokens)
	}
	if !slices.Equal(env.events.types(), []string{orderPlacedEvent}) {
		t.Fatalf("unexpected events %v", env.events.types())
	}
}

func TestCheckoutServiceCopiesDiscountFromCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cart := env.fill250(t, "user-1")
	discounted, err := env.coupons.ApplyToCart(ctx, ApplyCouponCommand{CartID: cart.ID, Code: "save10", UserID: "user-1"})
	if err != nil {
		t.Fatalf("apply coupon: %v", err)
	}

	result, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.Order.DiscountAmount != 10 || result.Order.CouponCode != "SAVE10" || result.Order.TotalAmount != discounted.TotalAmount {
		t.Fatalf("order must copy cart totals verbatim, got %+v", result.Order)
	}
}

func TestCheckoutServiceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fill250(t, "user-1")

	cmd := PlaceOrderCommand{UserID: "user-1", CheckoutKey: ClientCheckoutKey("abc")}
	first, err := env.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	second, err := env.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("replayed checkout: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Order.ID, second)
	}

	if _, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1"}); !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected cart empty on emptied cart, got %v", err)
	}

	page, err := env.orders.ListOrders(ctx, "user-1", Pagination{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(page.Items))
	}
	if got := len(env.events.types()); got != 1 {
		t.Fatalf("replay must not repeat side effects, got %d events", got)
	}
}

func TestCheckoutServiceRejectsMissingOrForeignCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fill250(t, "user-1")

	if _, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-2"}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected cart not found, got %v", err)
	}
	if _, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1", CartID: "other"}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected cart not found for mismatched id, got %v", err)
	}
	if _, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckoutServiceSideEffectFailuresDoNotFailOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fill250(t, "user-1")
	env.mailer.err = errors.New("smtp down")
	env.pusher.err = errors.New("fcm down")
	env.objects.putErr = errors.New("bucket down")

	result, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.Order.InvoiceURL != "" {
		t.Fatalf("expected no invoice url, got %q", result.Order.InvoiceURL)
	}
	if got := env.logs.count("checkout.side_effect_failed"); got < 4 {
		t.Fatalf("expected side-effect failures to be logged, got %d", got)
	}
	if len(env.store.NotificationsFor("designer-1")) != 1 {
		t.Fatal("notifications must still be written")
	}
}

func TestCheckoutServiceDeletesInvoiceWhenOrderUpdateFails(t *testing.T) {
	env := newTestEnv(t, withOrders(func(r repositories.OrderRepository) repositories.OrderRepository {
		return failingOrderUpdates{OrderRepository: r}
	}))
	ctx := context.Background()
	env.fill250(t, "user-1")

	result, err := env.checkout.PlaceOrder(ctx, PlaceOrderCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	path := "invoices/" + result.Order.ID + ".html"
	if !slices.Equal(env.objects.deleted, []string{path}) {
		t.Fatalf("expected %s to be deleted, got %v", path, env.objects.deleted)
	}
	if result.Order.InvoiceURL != "" {
		t.Fatalf("invoice url must not be reported when it was not persisted")
	}
}
