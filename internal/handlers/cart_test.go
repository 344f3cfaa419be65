package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/services"
)

func newCartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func sampleCart(userID string) services.Cart {
	return services.Cart{
		ID:       "cart-" + userID,
		UserID:   userID,
		Currency: "usd",
		Items: []services.CartItem{
			{ProductID: "tee", ProductName: "Tee", UnitPrice: 100, Quantity: 2, Size: "M", Color: "black"},
			{ProductID: "cap", ProductName: "Cap", UnitPrice: 50, Quantity: 1, Size: "OS", Color: "red"},
		},
		Subtotal:     250,
		ShippingCost: 30,
		TotalAmount:  280,
		Version:      3,
		UpdatedAt:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestCartHandlersGetCart(t *testing.T) {
	service := &stubCartService{
		getFunc: func(_ context.Context, userID string) (services.CartView, error) {
			if userID != "user-7" {
				t.Fatalf("unexpected user %q", userID)
			}
			cart := sampleCart(userID)
			return services.CartView{
				Cart: cart,
				Lines: []services.CartLineView{
					{Item: cart.Items[0], ProductName: "Tee v2", CurrentPrice: 120, Available: true},
					{Item: cart.Items[1], ProductName: "Cap", CurrentPrice: 50, Available: false},
				},
			}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, service, nil))

	req := withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatal("expected no-store cache headers")
	}
	cart := decodeResponse(t, rr)["cart"].(map[string]any)
	if cart["currency"] != "USD" || cart["total_amount"].(float64) != 280 || cart["items_count"].(float64) != 2 {
		t.Fatalf("unexpected cart payload %v", cart)
	}
	items := cart["items"].([]any)
	first := items[0].(map[string]any)
	if first["product_name"] != "Tee v2" || first["current_price"].(float64) != 120 || first["line_total"].(float64) != 200 {
		t.Fatalf("expected live catalog data on first line, got %v", first)
	}
	if second := items[1].(map[string]any); second["available"] != false {
		t.Fatalf("expected unavailable flag, got %v", second)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "unauthenticated" {
		t.Fatalf("expected 401 unauthenticated, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
			captured = cmd
			return sampleCart(cmd.UserID), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, service, nil))

	body := `{"product_id":" tee ","size":"M","color":"black","quantity":2,"customization":{"name":"Ada"}}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(body)), "user-1")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.ProductID != "tee" || captured.Quantity != 2 || captured.Customization["name"] != "Ada" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestCartHandlersAddItemErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "unknown field", body: `{"product_id":"tee","size":"M","color":"black","quantity":1,"price":1}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "zero quantity", body: `{"product_id":"tee","size":"M","color":"black","quantity":0}`, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "insufficient stock", body: `{"product_id":"tee","size":"M","color":"black","quantity":9}`, err: fmt.Errorf("%w: tee:black:M", services.ErrInsufficientStock), status: http.StatusConflict, code: "insufficient_stock"},
		{name: "unknown size", body: `{"product_id":"tee","size":"XXL","color":"black","quantity":1}`, err: services.ErrSizeNotFound, status: http.StatusNotFound, code: "size_not_found"},
		{name: "backend down", body: `{"product_id":"tee","size":"M","color":"black","quantity":1}`, err: fmt.Errorf("%w: deadline", services.ErrCartUnavailable), status: http.StatusServiceUnavailable, code: "cart_service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCartService{
				addFunc: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
					if tc.err == nil {
						t.Fatal("service must not be called")
					}
					return services.Cart{}, tc.err
				},
			}
			router := newCartRouter(NewCartHandlers(nil, service, nil))
			req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(tc.body)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status || errorCode(t, rr) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCartHandlersUpdateQuantity(t *testing.T) {
	var captured services.UpdateCartItemCommand
	service := &stubCartService{
		updateFunc: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.Cart, error) {
			captured = cmd
			return services.Cart{ID: "cart-user-1", UserID: cmd.UserID}, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, service, nil))

	req := withUser(httptest.NewRequest(http.MethodPatch, "/cart/items", strings.NewReader(`{"product_id":"tee","size":"M","color":"black","quantity":0}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Quantity != 0 || captured.ProductID != "tee" {
		t.Fatalf("expected zero quantity to reach the service, got %+v", captured)
	}

	req = withUser(httptest.NewRequest(http.MethodPatch, "/cart/items", strings.NewReader(`{"product_id":"tee","size":"M","color":"black"}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quantity, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	service := &stubCartService{
		removeFunc: func(_ context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			if cmd.ProductID != "cap" || cmd.Size != "OS" || cmd.Color != "red" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.Cart{}, services.ErrLineNotFound
		},
	}
	router := newCartRouter(NewCartHandlers(nil, service, nil))

	req := withUser(httptest.NewRequest(http.MethodDelete, "/cart/items?product_id=cap&size=OS&color=red", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "line_not_found" {
		t.Fatalf("expected 404 line_not_found, got %d %s", rr.Code, rr.Body.String())
	}

	req = withUser(httptest.NewRequest(http.MethodDelete, "/cart/items?product_id=cap", nil), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without full key, got %d", rr.Code)
	}
}

func TestCartHandlersApplyCoupon(t *testing.T) {
	carts := &stubCartService{
		getFunc: func(_ context.Context, userID string) (services.CartView, error) {
			return services.CartView{Cart: services.Cart{ID: "cart-" + userID, UserID: userID}}, nil
		},
	}
	var captured services.ApplyCouponCommand
	coupons := &stubCouponService{
		applyFunc: func(_ context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
			captured = cmd
			if cmd.Code == "USED" {
				return services.Cart{}, services.ErrCouponAlreadyUsed
			}
			cart := sampleCart(cmd.UserID)
			cart.DiscountApplied = true
			cart.DiscountAmount = 50
			cart.CouponCode = cmd.Code
			return cart, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts, coupons))

	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"code":"SAVE50"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "cart-user-1" || captured.UserID != "user-1" {
		t.Fatalf("expected cart id resolved from the caller's cart, got %+v", captured)
	}
	cart := decodeResponse(t, rr)["cart"].(map[string]any)
	if cart["discount_applied"] != true || cart["coupon_code"] != "SAVE50" {
		t.Fatalf("unexpected cart %v", cart)
	}

	req = withUser(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"cart_id":"cart-user-1","code":"USED"}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "coupon_already_used" {
		t.Fatalf("expected 409 coupon_already_used, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersCouponAttemptLimit(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	coupons := &stubCouponService{
		applyFunc: func(context.Context, services.ApplyCouponCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCouponNotFound
		},
	}
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, coupons, WithCouponAttemptLimit(2, time.Minute, clock)))

	send := func(uid string) *httptest.ResponseRecorder {
		req := withUser(httptest.NewRequest(http.MethodPost, "/cart/coupon", strings.NewReader(`{"cart_id":"c","code":"GUESS"}`)), uid)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("user-1"); rr.Code != http.StatusNotFound {
			t.Fatalf("attempt %d: expected 404, got %d", i, rr.Code)
		}
	}
	rr := send("user-1")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
	if body := decodeResponse(t, rr); body["retry_after_seconds"] != float64(60) {
		t.Fatalf("expected retry_after_seconds in body, got %v", body)
	}
	if rr := send("user-2"); rr.Code != http.StatusNotFound {
		t.Fatalf("other users must not be throttled, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := send("user-1"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}
