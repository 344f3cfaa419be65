package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/services"
)

func newCheckoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", h.Routes)
	return router
}

func placedOrder(cmd services.PlaceOrderCommand) services.Order {
	placed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord-1",
		OrderNumber: "LL-2025-000001",
		UserID:      cmd.UserID,
		Currency:    "usd",
		Items: []services.OrderLineItem{
			{ProductID: "tee", UnitPrice: 100, Quantity: 2, Size: "M", Color: "black"},
		},
		Subtotal:        200,
		ShippingCost:    30,
		TotalAmount:     230,
		PaymentMethod:   cmd.PaymentMethod,
		Status:          domain.OrderStatusPlaced,
		ShippingAddress: cmd.ShippingAddress,
		CheckoutKey:     cmd.CheckoutKey,
		Timestamps:      domain.OrderTimestamps{PlacedAt: placed},
		CreatedAt:       placed,
	}
}

func TestCheckoutHandlersPlaceOrder(t *testing.T) {
	calls := 0
	service := &stubCheckoutService{
		placeFunc: func(_ context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
			calls++
			return services.CheckoutResult{Order: placedOrder(cmd), Replayed: calls > 1}, nil
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(nil, service))

	body := `{"payment_method":"cod","shipping_address":{"recipient":"Ada","line1":"1 Main St","city":"Springfield","postal_code":"12345","country":"us"}}`
	send := func() *httptest.ResponseRecorder {
		req := withUser(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)), "user-1")
		req.Header.Set("Idempotency-Key", "abc-123")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := send()
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	order := decodeResponse(t, rr)["order"].(map[string]any)
	if order["status"] != "placed" || order["total_amount"].(float64) != 230 {
		t.Fatalf("unexpected order %v", order)
	}
	addr := order["shipping_address"].(map[string]any)
	if addr["country"] != "US" || addr["recipient"] != "Ada" {
		t.Fatalf("unexpected address %v", addr)
	}

	rr = send()
	if rr.Code != http.StatusOK || rr.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replayed 200, got %d %v", rr.Code, rr.Header())
	}
}

func TestCheckoutHandlersScopesKeyToCaller(t *testing.T) {
	var captured services.PlaceOrderCommand
	service := &stubCheckoutService{
		placeFunc: func(_ context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{Order: placedOrder(cmd)}, nil
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(nil, service))

	req := withUser(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cod"}`)), "user-9")
	req.Header.Set("Idempotency-Key", " key-1 ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CheckoutKey != services.ClientCheckoutKey("user-9:key-1") || captured.ShippingAddress != nil {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestCheckoutHandlersErrors(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "missing key", body: `{}`, status: http.StatusBadRequest, code: "idempotency_key_required"},
		{name: "long key", key: strings.Repeat("k", 256), body: `{}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "incomplete address", key: "k", body: `{"shipping_address":{"recipient":"Ada"}}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "empty cart", key: "k", body: `{}`, err: services.ErrCheckoutCartEmpty, status: http.StatusBadRequest, code: "cart_empty"},
		{name: "stock gone", key: "k", body: `{}`, err: services.ErrInsufficientStock, status: http.StatusConflict, code: "insufficient_stock"},
		{name: "coupon reused", key: "k", body: `{}`, err: services.ErrCouponAlreadyUsed, status: http.StatusConflict, code: "coupon_already_used"},
		{name: "store down", key: "k", body: `{}`, err: services.ErrCheckoutUnavailable, status: http.StatusServiceUnavailable, code: "checkout_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCheckoutService{
				placeFunc: func(context.Context, services.PlaceOrderCommand) (services.CheckoutResult, error) {
					if tc.err == nil {
						t.Fatal("service must not be called")
					}
					return services.CheckoutResult{}, tc.err
				},
			}
			router := newCheckoutRouter(NewCheckoutHandlers(nil, service))
			req := withUser(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(tc.body)), "user-1")
			if tc.key != "" {
				req.Header.Set("Idempotency-Key", tc.key)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status || errorCode(t, rr) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}
