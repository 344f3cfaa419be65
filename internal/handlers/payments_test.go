package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/idempotency"
	"github.com/loomline/api/internal/services"
)

func TestPaymentHandlersInitiateReplaysIdempotentRetry(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	service := &stubPaymentService{
		initiateFunc: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentSession, error) {
			calls++
			if cmd.UserID != "user-1" || cmd.Method != "card" || cmd.Provider != "stripe" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.PaymentSession{
				Payment: services.Payment{
					TransactionID: "TX1",
					Amount:        280,
					Currency:      "usd",
					Status:        domain.PaymentStatusPending,
					CreatedAt:     now,
				},
				ClientSecret: "pi_secret",
			}, nil
		},
	}
	store := idempotency.NewMemoryStore(func() time.Time { return now })
	handlers := NewPaymentHandlers(nil, service, WithReplayMiddleware(idempotency.Middleware(store, time.Hour)))
	router := chi.NewRouter()
	router.Route("/payments", handlers.Routes)

	send := func(body string) *httptest.ResponseRecorder {
		req := withUser(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)), "user-1")
		req.Header.Set("Idempotency-Key", "pay-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send(`{"method":"card","provider":"Stripe"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	body := decodeResponse(t, first)
	payment := body["payment"].(map[string]any)
	if payment["transaction_id"] != "TX1" || payment["status"] != "pending" || body["client_secret"] != "pi_secret" {
		t.Fatalf("unexpected body %v", body)
	}

	second := send(`{"method":"card","provider":"Stripe"}`)
	if second.Code != http.StatusCreated || second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replayed 201, got %d %v", second.Code, second.Header())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay must return the stored body")
	}
	if calls != 1 {
		t.Fatalf("expected a single initiation, got %d", calls)
	}

	conflict := send(`{"method":"wallet","provider":"Stripe"}`)
	if conflict.Code != http.StatusConflict || errorCode(t, conflict) != "idempotency_key_conflict" {
		t.Fatalf("expected 409 for a reused key, got %d %s", conflict.Code, conflict.Body.String())
	}
}

func TestPaymentHandlersInitiateErrors(t *testing.T) {
	service := &stubPaymentService{
		initiateFunc: func(context.Context, services.InitiatePaymentCommand) (services.PaymentSession, error) {
			return services.PaymentSession{}, services.ErrCartNotFound
		},
	}
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(nil, service).Routes)

	req := withUser(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"method":"card"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "cart_not_found" {
		t.Fatalf("expected 404, got %d %s", rr.Code, rr.Body.String())
	}

	req = withUser(httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without method, got %d", rr.Code)
	}
}

func TestWebhookRoutesVerifySignature(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	verifier, err := auth.NewWebhookVerifier("whsec", auth.NewMemoryNonceStore(func() time.Time { return now }), auth.WithWebhookClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"data":{"merchantTransactionId":"TX1","state":"COMPLETED"}}`))
	var received string
	service := &stubPaymentService{
		webhookFunc: func(_ context.Context, payload string) (services.WebhookResult, error) {
			received = payload
			return services.WebhookResult{
				Payment: services.Payment{TransactionID: "TX1", Status: domain.PaymentStatusPaid},
				Order:   &services.Order{ID: "ord-1"},
			}, nil
		},
	}
	router := NewRouter(
		WithWebhookRoutes(NewWebhookHandlers(service).Routes),
		WithWebhookMiddlewares(verifier.Require()),
	)

	body := `{"response":"` + encoded + `"}`
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set("X-Signature", signature)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := send(""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rr.Code)
	}
	if received != "" {
		t.Fatal("unsigned webhook must not reach the service")
	}

	signature := verifier.Sign([]byte(body), now)
	rr := send(signature)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received != encoded {
		t.Fatalf("expected encoded payload to reach the service, got %q", received)
	}
	resp := decodeResponse(t, rr)
	if resp["order_id"] != "ord-1" || resp["payment"].(map[string]any)["status"] != "paid" {
		t.Fatalf("unexpected body %v", resp)
	}

	if rr := send(signature); rr.Code != http.StatusConflict {
		t.Fatalf("expected replayed signature to be rejected, got %d", rr.Code)
	}
}

func TestWebhookHandlersMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "not json", body: `response=abc`, status: http.StatusBadRequest, code: "malformed_payload"},
		{name: "malformed", body: `{"response":"!!"}`, err: services.ErrPaymentMalformedPayload, status: http.StatusBadRequest, code: "malformed_payload"},
		{name: "unknown payment", body: `{"response":"e30="}`, err: services.ErrPaymentNotFound, status: http.StatusNotFound, code: "payment_not_found"},
		{name: "store down", body: `{"response":"e30="}`, err: services.ErrPaymentUnavailable, status: http.StatusServiceUnavailable, code: "payment_service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubPaymentService{
				webhookFunc: func(context.Context, string) (services.WebhookResult, error) {
					if tc.err == nil {
						t.Fatal("service must not be called")
					}
					return services.WebhookResult{}, tc.err
				},
			}
			router := chi.NewRouter()
			router.Route("/webhooks", NewWebhookHandlers(service).Routes)
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status || errorCode(t, rr) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestInternalHandlersExpirePayments(t *testing.T) {
	var got time.Duration
	service := &stubPaymentService{
		expireFunc: func(_ context.Context, olderThan time.Duration) (services.ExpireResult, error) {
			got = olderThan
			return services.ExpireResult{Expired: 2, Skipped: 1}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(service, 30*time.Minute).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments:expire", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got != 30*time.Minute {
		t.Fatalf("expected default ttl, got %s", got)
	}
	body := decodeResponse(t, rr)
	if body["expired"].(float64) != 2 || body["skipped"].(float64) != 1 {
		t.Fatalf("unexpected body %v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments:expire?older_than=2h", nil))
	if rr.Code != http.StatusOK || got != 2*time.Hour {
		t.Fatalf("expected override to apply, got %d %s", rr.Code, got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/payments:expire?older_than=soon", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", rr.Code)
	}
}
