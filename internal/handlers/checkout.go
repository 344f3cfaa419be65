package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const (
	maxCheckoutRequestBody = 8 * 1024
	maxCheckoutKeyLength   = 255
	checkoutKeyHeader      = "Idempotency-Key"
)

// CheckoutHandlers exposes synchronous checkout for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Post("/", h.placeOrder)
}

type placeOrderRequest struct {
	CartID          string          `json:"cart_id"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentRef      string          `json:"payment_ref"`
	ShippingAddress *addressPayload `json:"shipping_address"`
}

// placeOrder requires an Idempotency-Key header; retries with the same key return the
// order created by the first attempt.
func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(checkoutKeyHeader))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", checkoutKeyHeader+" header is required", http.StatusBadRequest))
		return
	}
	if len(key) > maxCheckoutKeyLength {
		writeBadRequest(ctx, w, checkoutKeyHeader+" header is too long")
		return
	}

	var req placeOrderRequest
	if !decodeBody(ctx, w, r, &req, maxCheckoutRequestBody) {
		return
	}
	if msg := req.ShippingAddress.validate(); msg != "" {
		writeBadRequest(ctx, w, msg)
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:          identity.UID,
		CartID:          strings.TrimSpace(req.CartID),
		CheckoutKey:     services.ClientCheckoutKey(identity.UID + ":" + key),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		PaymentRef:      strings.TrimSpace(req.PaymentRef),
		ShippingAddress: req.ShippingAddress.toAddress(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		w.Header().Set("X-Idempotent-Replay", "true")
	}
	httpx.WriteJSON(w, status, orderResponse{Order: buildOrderPayload(result.Order)})
}
