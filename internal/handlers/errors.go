package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

type errorMapping struct {
	target  error
	code    string
	message string
	status  int
	// passMessage forwards the detail after the sentinel so validation hints reach the client.
	passMessage bool
}

// serviceErrors maps service sentinels to HTTP envelopes. More specific sentinels come first.
var serviceErrors = []errorMapping{
	{target: services.ErrCartInvalidInput, code: "invalid_request", status: http.StatusBadRequest, passMessage: true},
	{target: services.ErrCouponInvalidInput, code: "invalid_request", message: "cart id and coupon code are required", status: http.StatusBadRequest},
	{target: services.ErrCheckoutInvalidInput, code: "invalid_request", status: http.StatusBadRequest, passMessage: true},
	{target: services.ErrOrderInvalidInput, code: "invalid_request", status: http.StatusBadRequest, passMessage: true},
	{target: services.ErrPaymentInvalidInput, code: "invalid_request", status: http.StatusBadRequest, passMessage: true},
	{target: services.ErrInventoryInvalidInput, code: "invalid_request", status: http.StatusBadRequest, passMessage: true},
	{target: services.ErrPaymentMalformedPayload, code: "malformed_payload", message: "payment notification could not be decoded", status: http.StatusBadRequest},
	{target: services.ErrCheckoutCartEmpty, code: "cart_empty", message: "cart has no items", status: http.StatusBadRequest},

	{target: services.ErrCartNotFound, code: "cart_not_found", message: "cart not found", status: http.StatusNotFound},
	{target: services.ErrProductNotFound, code: "product_not_found", message: "product not found", status: http.StatusNotFound},
	{target: services.ErrVariantNotFound, code: "variant_not_found", message: "product has no variant in that color", status: http.StatusNotFound},
	{target: services.ErrSizeNotFound, code: "size_not_found", message: "variant does not offer that size", status: http.StatusNotFound},
	{target: services.ErrLineNotFound, code: "line_not_found", message: "cart has no line for that product, size and color", status: http.StatusNotFound},
	{target: services.ErrCouponNotFound, code: "coupon_not_found", message: "coupon not found", status: http.StatusNotFound},
	{target: services.ErrOrderNotFound, code: "order_not_found", message: "order not found", status: http.StatusNotFound},
	{target: services.ErrOrderLineNotFound, code: "order_line_not_found", message: "order has no such line", status: http.StatusNotFound},
	{target: services.ErrPaymentNotFound, code: "payment_not_found", message: "payment not found", status: http.StatusNotFound},
	{target: services.ErrStockNotFound, code: "stock_not_found", message: "no stock recorded for that variant", status: http.StatusNotFound},

	{target: services.ErrInsufficientStock, code: "insufficient_stock", message: "not enough stock for the requested quantity", status: http.StatusConflict},
	{target: services.ErrCouponAlreadyUsed, code: "coupon_already_used", message: "coupon has already been used", status: http.StatusConflict},
	{target: services.ErrDiscountAlreadyApplied, code: "discount_already_applied", message: "cart already carries a discount", status: http.StatusConflict},
	{target: services.ErrCouponInactive, code: "coupon_inactive", message: "coupon is not active", status: http.StatusConflict},
	{target: services.ErrCouponExpired, code: "coupon_expired", message: "coupon has expired", status: http.StatusConflict},
	{target: services.ErrCartConflict, code: "cart_conflict", message: "cart has been modified; refresh and retry", status: http.StatusConflict},
	{target: services.ErrCheckoutCartChanged, code: "cart_changed", message: "cart no longer matches the payment", status: http.StatusConflict},
	{target: services.ErrCheckoutConflict, code: "checkout_conflict", message: "checkout is already in progress", status: http.StatusConflict},
	{target: services.ErrOrderInvalidTransition, code: "order_invalid_transition", status: http.StatusConflict, passMessage: true},
	{target: services.ErrReturnInvalidState, code: "return_invalid_state", message: "return is not in a state that allows this action", status: http.StatusConflict},
	{target: services.ErrOrderConflict, code: "order_conflict", message: "order has been modified; refresh and retry", status: http.StatusConflict},

	{target: services.ErrCartUnavailable, code: "cart_service_unavailable", message: "cart service is unavailable", status: http.StatusServiceUnavailable},
	{target: services.ErrCouponUnavailable, code: "coupon_service_unavailable", message: "coupon service is unavailable", status: http.StatusServiceUnavailable},
	{target: services.ErrCheckoutUnavailable, code: "checkout_unavailable", message: "checkout is unavailable", status: http.StatusServiceUnavailable},
	{target: services.ErrOrderUnavailable, code: "order_service_unavailable", message: "order service is unavailable", status: http.StatusServiceUnavailable},
	{target: services.ErrPaymentUnavailable, code: "payment_service_unavailable", message: "payment service is unavailable", status: http.StatusServiceUnavailable},
	{target: services.ErrInventoryUnavailable, code: "inventory_unavailable", message: "inventory is unavailable", status: http.StatusServiceUnavailable},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range serviceErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if m.passMessage || message == "" {
			message = clientMessage(err, m.target)
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}

// clientMessage drops the "<service>: <sentinel>" prefix. Sentinels read "cart service: invalid
// input", so a bare sentinel renders as "invalid input".
func clientMessage(err, target error) string {
	sentinel := target.Error()
	if detail, ok := strings.CutPrefix(err.Error(), sentinel); ok {
		if detail = strings.TrimLeft(detail, ": "); detail != "" {
			return detail
		}
	}
	if _, short, ok := strings.Cut(sentinel, ": "); ok {
		return short
	}
	return sentinel
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

// requireIdentity returns the authenticated uid or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	if err := httpx.DecodeJSON(r, dst, limit); err != nil {
		writeBadRequest(ctx, w, err.Error())
		return false
	}
	return true
}
