package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

// InternalHandlers serves scheduler-driven maintenance jobs. The /internal group middleware
// authenticates the caller with an OIDC token.
type InternalHandlers struct {
	payments   services.PaymentService
	pendingTTL time.Duration
}

// NewInternalHandlers constructs the maintenance handlers. pendingTTL is the default age after
// which pending payments expire.
func NewInternalHandlers(payments services.PaymentService, pendingTTL time.Duration) *InternalHandlers {
	return &InternalHandlers{
		payments:   payments,
		pendingTTL: pendingTTL,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:expire", h.expirePayments)
}

type expireResponse struct {
	Expired   int    `json:"expired"`
	Skipped   int    `json:"skipped"`
	OlderThan string `json:"older_than"`
}

// expirePayments accepts an optional older_than query parameter in Go duration syntax.
func (h *InternalHandlers) expirePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}

	olderThan := h.pendingTTL
	if raw := strings.TrimSpace(r.URL.Query().Get("older_than")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(ctx, w, "older_than must be a positive duration")
			return
		}
		olderThan = parsed
	}

	result, err := h.payments.ExpireStale(ctx, olderThan)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expireResponse{
		Expired:   result.Expired,
		Skipped:   result.Skipped,
		OlderThan: olderThan.String(),
	})
}
