package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
)

const (
	webhookStateCompleted = "COMPLETED"
	failureAmountMismatch = "amount_mismatch"
	failureCartChanged    = "cart_changed"
	failureExpired        = "expired"
	failureProviderError  = "provider_error"
	expireBatchSize       = 100
)

var (
	errPaymentRepositoryRequired = errors.New("payment service: payment repository is required")
	errPaymentCartsRequired      = errors.New("payment service: cart repository is required")
	errPaymentCheckoutRequired   = errors.New("payment service: checkout service is required")
	errPaymentClockRequired      = errors.New("payment service: clock is required")
)

var (
	// ErrPaymentInvalidInput indicates a malformed request.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentMalformedPayload indicates a webhook body that cannot be decoded.
	ErrPaymentMalformedPayload = errors.New("payment service: malformed payload")
	// ErrPaymentNotFound indicates the webhook names an unknown transaction.
	ErrPaymentNotFound = errors.New("payment service: payment not found")
	// ErrPaymentUnavailable indicates a backend or provider failure.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
)

// PaymentGateway creates and cancels provider payment intents. *payments.Manager implements it.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	CancelIntent(ctx context.Context, paymentCtx payments.PaymentContext, intentID string) error
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, intentID string) (payments.PaymentDetails, error)
}

// PaymentServiceDeps wires payment reconciliation.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Carts       repositories.CartRepository
	Checkout    CheckoutService
	Gateway     PaymentGateway
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type paymentService struct {
	payments repositories.PaymentRepository
	carts    repositories.CartRepository
	checkout CheckoutService
	gateway  PaymentGateway
	now      func() time.Time
	logger   eventLogger
	newID    func() string
}

// NewPaymentService constructs a PaymentService. The gateway is optional; without it payments are
// recorded for out-of-band settlement only.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errPaymentRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errPaymentCartsRequired
	}
	if deps.Checkout == nil {
		return nil, errPaymentCheckoutRequired
	}
	if deps.Clock == nil {
		return nil, errPaymentClockRequired
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = newTransactionID
	}
	return &paymentService{
		payments: deps.Payments,
		carts:    deps.Carts,
		checkout: deps.Checkout,
		gateway:  deps.Gateway,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   loggerOrNoop(deps.Logger),
		newID:    idGen,
	}, nil
}

func newTransactionID() string {
	return "TX" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	method := strings.TrimSpace(cmd.Method)
	if userID == "" || method == "" {
		return PaymentSession{}, ErrPaymentInvalidInput
	}

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentSession{}, ErrCartNotFound
		}
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if cart.IsEmpty() {
		return PaymentSession{}, ErrCheckoutCartEmpty
	}
	if cart.TotalAmount <= 0 {
		return PaymentSession{}, fmt.Errorf("%w: cart total must be positive", ErrPaymentInvalidInput)
	}

	now := s.now()
	payment := domain.Payment{
		TransactionID: s.newID(),
		UserID:        userID,
		CartID:        cart.ID,
		CartVersion:   cart.Version,
		Amount:        cart.TotalAmount,
		Currency:      cart.Currency,
		Method:        method,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var clientSecret string
	paymentCtx := payments.PaymentContext{PreferredProvider: cmd.Provider, Currency: cart.Currency}
	if s.gateway != nil {
		intent, err := s.gateway.CreateIntent(ctx, paymentCtx, payments.IntentRequest{
			TransactionID: payment.TransactionID,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			CustomerID:    userID,
			Method:        method,
			Metadata:      map[string]string{"cartId": cart.ID},
		})
		if err != nil {
			s.logger(ctx, "payment.intent_failed", map[string]any{
				"transactionID": payment.TransactionID,
				"error":         err.Error(),
			})
			return PaymentSession{}, fmt.Errorf("%w: %s: %v", ErrPaymentUnavailable, failureProviderError, err)
		}
		payment.Provider = intent.Provider
		payment.ProviderRef = intent.IntentID
		clientSecret = intent.ClientSecret
	}

	if err := s.payments.Insert(ctx, payment); err != nil {
		if s.gateway != nil && payment.ProviderRef != "" {
			if cancelErr := s.gateway.CancelIntent(context.WithoutCancel(ctx), paymentCtx, payment.ProviderRef); cancelErr != nil {
				s.logger(ctx, "payment.intent_cancel_failed", map[string]any{
					"transactionID": payment.TransactionID,
					"error":         cancelErr.Error(),
				})
			}
		}
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	s.logger(ctx, "payment.initiated", map[string]any{
		"transactionID": payment.TransactionID,
		"userID":        userID,
		"amount":        payment.Amount,
		"provider":      payment.Provider,
	})
	return PaymentSession{Payment: payment, ClientSecret: clientSecret}, nil
}

type webhookPayload struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		State                 string `json:"state"`
		Amount                int64  `json:"amount"`
		PaymentInstrument     struct {
			Type string `json:"type"`
		} `json:"paymentInstrument"`
	} `json:"data"`
}

func decodeWebhookPayload(encoded string) (webhookPayload, error) {
	var payload webhookPayload
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return payload, fmt.Errorf("%w: empty payload", ErrPaymentMalformedPayload)
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(trimmed, "="))
		if err != nil {
			return payload, fmt.Errorf("%w: %v", ErrPaymentMalformedPayload, err)
		}
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrPaymentMalformedPayload, err)
	}
	payload.Data.MerchantTransactionID = strings.TrimSpace(payload.Data.MerchantTransactionID)
	payload.Data.State = strings.ToUpper(strings.TrimSpace(payload.Data.State))
	if payload.Data.MerchantTransactionID == "" || payload.Data.State == "" {
		return payload, fmt.Errorf("%w: transaction id and state are required", ErrPaymentMalformedPayload)
	}
	return payload, nil
}

// HandleWebhook settles a pending payment from a provider notification and places the order when
// the payment is paid. Redelivered notifications leave the stored state untouched.
func (s *paymentService) HandleWebhook(ctx context.Context, encodedPayload string) (WebhookResult, error) {
	payload, err := decodeWebhookPayload(encodedPayload)
	if err != nil {
		s.logger(ctx, "payment.webhook_malformed", map[string]any{"error": err.Error()})
		return WebhookResult{}, err
	}
	txnID := payload.Data.MerchantTransactionID

	payment, err := s.payments.FindByTransactionID(ctx, txnID)
	if err != nil {
		if isRepoNotFound(err) {
			return WebhookResult{}, ErrPaymentNotFound
		}
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	update := repositories.PaymentUpdate{
		Status:         domain.PaymentStatusFailed,
		InstrumentType: strings.TrimSpace(payload.Data.PaymentInstrument.Type),
		FailureReason:  strings.ToLower(payload.Data.State),
		SettledAt:      s.now(),
	}
	if payload.Data.State == webhookStateCompleted {
		update.Status = domain.PaymentStatusPaid
		update.FailureReason = ""
		if payload.Data.Amount != 0 && payload.Data.Amount != payment.Amount {
			update.Status = domain.PaymentStatusFailed
			update.FailureReason = failureAmountMismatch
			s.logger(ctx, "payment.amount_mismatch", map[string]any{
				"transactionID": txnID,
				"expected":      payment.Amount,
				"received":      payload.Data.Amount,
			})
		}
	}

	replayed := false
	if payment.Status.Terminal() {
		replayed = true
	} else {
		settled, err := s.payments.Transition(ctx, txnID, domain.PaymentStatusPending, update)
		switch {
		case err == nil:
			payment = settled
		case isRepoConflict(err):
			current, findErr := s.payments.FindByTransactionID(ctx, txnID)
			if findErr != nil {
				return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, findErr)
			}
			payment = current
			replayed = true
		default:
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
	}

	if replayed && payment.Status != update.Status {
		s.logger(ctx, "payment.webhook_conflicting_state", map[string]any{
			"transactionID": txnID,
			"stored":        string(payment.Status),
			"received":      payload.Data.State,
		})
	}

	result := WebhookResult{Payment: payment, Replayed: replayed}
	// A paid payment with a failure reason already lost its cart; only reconciliation can help.
	if payment.Status != domain.PaymentStatusPaid || payment.OrderID != "" || payment.FailureReason != "" {
		return result, nil
	}

	order, err := s.placeOrder(ctx, payment)
	if err != nil {
		if !errors.Is(err, ErrCheckoutCartChanged) {
			return WebhookResult{}, err
		}
		return s.markUnfulfilled(ctx, result, err)
	}
	result.Order = order
	result.Payment.OrderID = order.ID
	return result, nil
}

// markUnfulfilled records that a paid payment could not become an order because the cart it
// covered was modified or checked out in the meantime.
func (s *paymentService) markUnfulfilled(ctx context.Context, result WebhookResult, cause error) (WebhookResult, error) {
	txnID := result.Payment.TransactionID
	if err := s.payments.MarkUnfulfilled(ctx, txnID, failureCartChanged); err != nil {
		if !isRepoConflict(err) {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
		// A concurrent delivery attached the order first.
		current, findErr := s.payments.FindByTransactionID(ctx, txnID)
		if findErr != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, findErr)
		}
		return WebhookResult{Payment: current, Replayed: true}, nil
	}
	s.logger(ctx, "payment.unfulfilled", map[string]any{
		"transactionID": txnID,
		"userID":        result.Payment.UserID,
		"amount":        result.Payment.Amount,
		"reason":        cause.Error(),
	})
	result.Payment.FailureReason = failureCartChanged
	return result, nil
}

func (s *paymentService) placeOrder(ctx context.Context, payment domain.Payment) (*domain.Order, error) {
	checkout, err := s.checkout.PlaceOrder(ctx, PlaceOrderCommand{
		UserID:              payment.UserID,
		CartID:              payment.CartID,
		CheckoutKey:         PaymentCheckoutKey(payment.TransactionID),
		PaymentMethod:       payment.Method,
		PaymentRef:          payment.TransactionID,
		ExpectedCartVersion: payment.CartVersion,
		ExpectedTotal:       payment.Amount,
	})
	if err != nil {
		if errors.Is(err, ErrCheckoutCartEmpty) || errors.Is(err, ErrCartNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrCheckoutCartChanged, err)
		}
		if errors.Is(err, ErrCheckoutCartChanged) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: checkout: %v", ErrPaymentUnavailable, err)
	}

	if err := s.payments.AttachOrder(ctx, payment.TransactionID, checkout.Order.ID); err != nil {
		s.logger(ctx, "payment.attach_order_failed", map[string]any{
			"transactionID": payment.TransactionID,
			"orderID":       checkout.Order.ID,
			"error":         err.Error(),
		})
	}
	order := checkout.Order
	return &order, nil
}

// ExpireStale fails pending payments created before now-olderThan. Payments the provider already
// reports as succeeded are left for the webhook to settle.
func (s *paymentService) ExpireStale(ctx context.Context, olderThan time.Duration) (ExpireResult, error) {
	if olderThan <= 0 {
		return ExpireResult{}, fmt.Errorf("%w: olderThan must be positive", ErrPaymentInvalidInput)
	}
	now := s.now()
	pending, err := s.payments.ListPendingBefore(ctx, now.Add(-olderThan), expireBatchSize)
	if err != nil {
		return ExpireResult{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	var result ExpireResult
	for _, payment := range pending {
		paymentCtx := payments.PaymentContext{PreferredProvider: payment.Provider, Currency: payment.Currency}
		if s.gateway != nil && payment.ProviderRef != "" {
			details, err := s.gateway.LookupPayment(ctx, paymentCtx, payment.ProviderRef)
			if err == nil && details.Status == payments.StatusSucceeded {
				result.Skipped++
				continue
			}
			// An intent the provider already failed has nothing left to cancel.
			if err != nil || !details.Status.Terminal() {
				if err := s.gateway.CancelIntent(ctx, paymentCtx, payment.ProviderRef); err != nil {
					s.logger(ctx, "payment.intent_cancel_failed", map[string]any{
						"transactionID": payment.TransactionID,
						"error":         err.Error(),
					})
				}
			}
		}
		_, err := s.payments.Transition(ctx, payment.TransactionID, domain.PaymentStatusPending, repositories.PaymentUpdate{
			Status:        domain.PaymentStatusFailed,
			FailureReason: failureExpired,
			SettledAt:     now,
		})
		if err != nil {
			if isRepoConflict(err) {
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
		result.Expired++
	}

	s.logger(ctx, "payment.expired", map[string]any{
		"expired": result.Expired,
		"skipped": result.Skipped,
	})
	return result, nil
}
