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
	maxPaymentRequestBody = 4 * 1024
	maxWebhookBody        = 1 << 20
)

// PaymentHandlers starts payments for the caller's cart.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
	// replay deduplicates retried POSTs; it runs after authentication so keys are scoped per user.
	replay func(http.Handler) http.Handler
}

// PaymentHandlersOption customises PaymentHandlers.
type PaymentHandlersOption func(*PaymentHandlers)

// WithReplayMiddleware installs the Idempotency-Key middleware on POST /payments.
func WithReplayMiddleware(mw func(http.Handler) http.Handler) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.replay = mw
	}
}

// NewPaymentHandlers constructs the payment initiation handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	if h.replay != nil {
		r.Use(h.replay)
	}
	r.Post("/", h.initiate)
}

type initiatePaymentRequest struct {
	Method   string `json:"method"`
	Provider string `json:"provider"`
}

type paymentSessionResponse struct {
	Payment      paymentPayload `json:"payment"`
	ClientSecret string         `json:"client_secret,omitempty"`
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if !decodeBody(ctx, w, r, &req, maxPaymentRequestBody) {
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeBadRequest(ctx, w, "method is required")
		return
	}

	session, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		UserID:   identity.UID,
		Method:   method,
		Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusCreated, paymentSessionResponse{
		Payment:      buildPaymentPayload(session.Payment),
		ClientSecret: session.ClientSecret,
	})
}

// WebhookHandlers receives provider notifications. Signature checks are applied by the
// /webhooks group middleware.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.paymentNotification)
}

type paymentWebhookRequest struct {
	Response string `json:"response"`
}

type paymentWebhookResponse struct {
	Payment  paymentPayload `json:"payment"`
	OrderID  string         `json:"order_id,omitempty"`
	Replayed bool           `json:"replayed"`
}

func (h *WebhookHandlers) paymentNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}

	var req paymentWebhookRequest
	if err := httpx.DecodeJSON(r, &req, maxWebhookBody); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("malformed_payload", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.payments.HandleWebhook(ctx, strings.TrimSpace(req.Response))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := paymentWebhookResponse{
		Payment:  buildPaymentPayload(result.Payment),
		Replayed: result.Replayed,
	}
	if result.Order != nil {
		resp.OrderID = result.Order.ID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
