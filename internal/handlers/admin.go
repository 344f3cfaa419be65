package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

// AdminHandlers exposes staff tooling for fulfilment, returns and stock.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
}

// NewAdminHandlers constructs staff handlers. Every route requires the staff or admin role.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/orders/{orderID}:transition", h.transition)
	r.Post("/orders/{orderID}/items/{line}:review-return", h.reviewReturn)
	r.Post("/orders/{orderID}/items/{line}:resolve-return", h.resolveReturn)
	r.Get("/inventory/{productID}/{color}/{size}", h.getStock)
	r.Put("/inventory/{productID}/{color}/{size}", h.setStock)
}

type transitionRequest struct {
	Status string `json:"status"`
}

type stockRequest struct {
	Available *int `json:"available"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Available int    `json:"available"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (h *AdminHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if !decodeBody(ctx, w, r, &req, maxOrderActionBody) {
		return
	}
	target, ok := parseOrderStatus(req.Status)
	if !ok {
		writeBadRequest(ctx, w, "status must be a valid order status")
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		OrderID: orderID,
		Target:  target,
		ActorID: identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) reviewReturn(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.returnStep(w, r, h.orders.ReviewReturn)
}

func (h *AdminHandlers) resolveReturn(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.returnStep(w, r, h.orders.ResolveReturn)
}

func (h *AdminHandlers) returnStep(w http.ResponseWriter, r *http.Request, step func(context.Context, services.ReturnLineCommand) (services.Order, error)) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}

	// Staff act on any user's order, so no owner is passed.
	order, err := step(ctx, services.ReturnLineCommand{OrderID: orderID, Line: line})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeUnavailable(ctx, w, "inventory")
		return
	}
	key, ok := variantKeyParam(w, r)
	if !ok {
		return
	}
	stock, err := h.inventory.Available(ctx, key)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

func (h *AdminHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeUnavailable(ctx, w, "inventory")
		return
	}
	key, ok := variantKeyParam(w, r)
	if !ok {
		return
	}
	var req stockRequest
	if !decodeBody(ctx, w, r, &req, maxOrderActionBody) {
		return
	}
	if req.Available == nil || *req.Available < 0 {
		writeBadRequest(ctx, w, "available must be zero or a positive integer")
		return
	}
	stock, err := h.inventory.SetStock(ctx, key, *req.Available)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

func variantKeyParam(w http.ResponseWriter, r *http.Request) (services.VariantKey, bool) {
	key := services.VariantKey{
		ProductID: chi.URLParam(r, "productID"),
		Color:     chi.URLParam(r, "color"),
		Size:      chi.URLParam(r, "size"),
	}.Normalize()
	if !key.Valid() {
		writeBadRequest(r.Context(), w, "product, color and size are required")
		return services.VariantKey{}, false
	}
	return key, true
}

func buildStockResponse(stock services.InventoryStock) stockResponse {
	return stockResponse{
		ProductID: stock.Key.ProductID,
		Color:     stock.Key.Color,
		Size:      stock.Key.Size,
		Available: stock.Available,
		UpdatedAt: formatTime(stock.UpdatedAt),
	}
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := services.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case "placed", "processing", "shipped", "delivered", "cancelled", "returned":
		return status, true
	}
	return "", false
}
