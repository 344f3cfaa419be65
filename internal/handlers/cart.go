package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the current user's cart and coupon endpoints.
type CartHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	coupons services.CouponService

	couponLimiter *windowLimiter
}

// CartHandlersOption customises CartHandlers.
type CartHandlersOption func(*CartHandlers)

// WithCouponAttemptLimit caps coupon applications per user in each window. A zero limit disables it.
func WithCouponAttemptLimit(limit int, window time.Duration, clock func() time.Time) CartHandlersOption {
	return func(h *CartHandlers) {
		h.couponLimiter = newWindowLimiter(limit, window, clock)
	}
}

// NewCartHandlers constructs handlers that authenticate the caller before touching their cart.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, coupons services.CouponService, opts ...CartHandlersOption) *CartHandlers {
	h := &CartHandlers{
		authn:   authn,
		carts:   carts,
		coupons: coupons,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items", h.updateItem)
	r.Delete("/items", h.removeItem)
	r.Post("/coupon", h.couponLimiter.perUser(h.applyCoupon))
}

type addCartItemRequest struct {
	ProductID     string            `json:"product_id"`
	Size          string            `json:"size"`
	Color         string            `json:"color"`
	Quantity      int               `json:"quantity"`
	Customization map[string]string `json:"customization"`
}

type updateCartItemRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  *int   `json:"quantity"`
}

type applyCouponRequest struct {
	CartID string `json:"cart_id"`
	Code   string `json:"code"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartViewPayload(view)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeBody(ctx, w, r, &req, maxCartBodySize) {
		return
	}
	if req.Quantity <= 0 {
		writeBadRequest(ctx, w, "quantity must be a positive integer")
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:        identity.UID,
		ProductID:     strings.TrimSpace(req.ProductID),
		Size:          strings.TrimSpace(req.Size),
		Color:         strings.TrimSpace(req.Color),
		Quantity:      req.Quantity,
		Customization: req.Customization,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if !decodeBody(ctx, w, r, &req, maxCartBodySize) {
		return
	}
	// Zero is meaningful here: it removes the line.
	if req.Quantity == nil || *req.Quantity < 0 {
		writeBadRequest(ctx, w, "quantity must be zero or a positive integer")
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, services.UpdateCartItemCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		Size:      strings.TrimSpace(req.Size),
		Color:     strings.TrimSpace(req.Color),
		Quantity:  *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

// removeItem reads the line key from the query string; some proxies drop DELETE bodies.
func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	cmd := services.RemoveCartItemCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(query.Get("product_id")),
		Size:      strings.TrimSpace(query.Get("size")),
		Color:     strings.TrimSpace(query.Get("color")),
	}
	if cmd.ProductID == "" || cmd.Size == "" || cmd.Color == "" {
		writeBadRequest(ctx, w, "product_id, size and color query parameters are required")
		return
	}

	cart, err := h.carts.RemoveItem(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req applyCouponRequest
	if !decodeBody(ctx, w, r, &req, maxCartBodySize) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeBadRequest(ctx, w, "code is required")
		return
	}

	cartID := strings.TrimSpace(req.CartID)
	if cartID == "" {
		if h.carts == nil {
			writeBadRequest(ctx, w, "cart_id is required")
			return
		}
		view, err := h.carts.GetCart(ctx, identity.UID)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		cartID = view.Cart.ID
	}

	cart, err := h.coupons.ApplyToCart(ctx, services.ApplyCouponCommand{
		CartID: cartID,
		Code:   code,
		UserID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}
