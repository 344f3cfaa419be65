package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	newParams   *stripe.PaymentIntentParams
	cancelledID string
	intent      *stripe.PaymentIntent
	err         error
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.newParams = params
	return f.intent, f.err
}

func (f *fakeIntentAPI) Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error) {
	f.cancelledID = id
	return f.intent, f.err
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func TestStripeCreateIntentSetsAmountAndIdempotencyKey(t *testing.T) {
	api := &fakeIntentAPI{intent: &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}}
	provider, err := NewStripeProvider(StripeProviderConfig{intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	intent, err := provider.CreateIntent(context.Background(), IntentRequest{TransactionID: "TX1", Amount: 28000, Currency: "USD", CustomerID: "user-1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ClientSecret != "secret" || intent.Status != StatusPending {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if api.newParams == nil || *api.newParams.Amount != 28000 || *api.newParams.Currency != "usd" {
		t.Fatalf("unexpected params %+v", api.newParams)
	}
	if api.newParams.IdempotencyKey == nil || *api.newParams.IdempotencyKey != "TX1" {
		t.Fatalf("expected idempotency key TX1")
	}
	if api.newParams.Metadata["merchantTransactionId"] != "TX1" {
		t.Fatalf("expected transaction id metadata, got %v", api.newParams.Metadata)
	}
}

func TestStripeCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	provider, err := NewStripeProvider(StripeProviderConfig{intents: &fakeIntentAPI{}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.CreateIntent(context.Background(), IntentRequest{Amount: 0}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestStripeLookupMapsStatus(t *testing.T) {
	api := &fakeIntentAPI{intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded, Amount: 500, Currency: "usd"}}
	provider, _ := NewStripeProvider(StripeProviderConfig{intents: api})

	details, err := provider.LookupPayment(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusSucceeded || details.Currency != "USD" {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestStripeCancelWrapsErrors(t *testing.T) {
	api := &fakeIntentAPI{err: errors.New("boom")}
	provider, _ := NewStripeProvider(StripeProviderConfig{intents: api})
	if err := provider.CancelIntent(context.Background(), "pi_9"); err == nil {
		t.Fatal("expected error")
	}
	if api.cancelledID != "pi_9" {
		t.Fatalf("expected cancel of pi_9, got %q", api.cancelledID)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
