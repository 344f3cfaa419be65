package payments

import (
	"context"
	"errors"
)

// Status is a provider payment state mapped onto the three outcomes reconciliation cares about.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the provider will not move the payment any further.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// IntentRequest prepares a provider payment for one of our payment transactions.
// TransactionID doubles as the provider idempotency key.
type IntentRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	CustomerID    string
	Method        string
	Metadata      map[string]string
}

// Intent is what the client needs to confirm the payment with the provider.
type Intent struct {
	Provider     string
	IntentID     string
	ClientSecret string
	Status       Status
}

type PaymentDetails struct {
	Provider string
	IntentID string
	Status   Status
	Amount   int64
	Currency string
}

// Provider is implemented by each payment service provider adapter.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	LookupPayment(ctx context.Context, intentID string) (PaymentDetails, error)
}
