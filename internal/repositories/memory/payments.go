package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type paymentRepo struct{ s *Store }

func (r paymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.payments[payment.TransactionID]; exists {
		return repositories.NewConflictError("payments.insert", "payment "+payment.TransactionID+" already exists")
	}
	r.s.payments[payment.TransactionID] = payment
	r.s.onRollback(ctx, func() { delete(r.s.payments, payment.TransactionID) })
	return nil
}

func (r paymentRepo) FindByTransactionID(_ context.Context, transactionID string) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[transactionID]
	if !ok {
		return domain.Payment{}, repositories.NewNotFoundError("payments.find", "payment", transactionID)
	}
	return payment, nil
}

func (r paymentRepo) Transition(ctx context.Context, transactionID string, from domain.PaymentStatus, update repositories.PaymentUpdate) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[transactionID]
	if !ok {
		return domain.Payment{}, repositories.NewNotFoundError("payments.transition", "payment", transactionID)
	}
	if payment.Status != from {
		return domain.Payment{}, repositories.NewConflictError("payments.transition", fmt.Sprintf("payment %s is %s, expected %s", transactionID, payment.Status, from))
	}
	prev := payment
	settled := update.SettledAt.UTC()
	payment.Status = update.Status
	payment.InstrumentType = update.InstrumentType
	payment.FailureReason = update.FailureReason
	payment.UpdatedAt = settled
	payment.SettledAt = &settled
	r.s.payments[transactionID] = payment
	r.s.onRollback(ctx, func() { r.s.payments[transactionID] = prev })
	return payment, nil
}

func (r paymentRepo) AttachOrder(ctx context.Context, transactionID string, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[transactionID]
	if !ok {
		return repositories.NewNotFoundError("payments.attach_order", "payment", transactionID)
	}
	prev := payment
	payment.OrderID = orderID
	payment.UpdatedAt = r.s.now()
	r.s.payments[transactionID] = payment
	r.s.onRollback(ctx, func() { r.s.payments[transactionID] = prev })
	return nil
}

func (r paymentRepo) MarkUnfulfilled(ctx context.Context, transactionID string, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[transactionID]
	if !ok {
		return repositories.NewNotFoundError("payments.mark_unfulfilled", "payment", transactionID)
	}
	if payment.OrderID != "" {
		return repositories.NewConflictError("payments.mark_unfulfilled", "payment "+transactionID+" already has order "+payment.OrderID)
	}
	prev := payment
	payment.FailureReason = reason
	payment.UpdatedAt = r.s.now()
	r.s.payments[transactionID] = payment
	r.s.onRollback(ctx, func() { r.s.payments[transactionID] = prev })
	return nil
}

func (r paymentRepo) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	r.s.mu.Lock()
	var out []domain.Payment
	for _, payment := range r.s.payments {
		if payment.Status == domain.PaymentStatusPending && payment.CreatedAt.Before(cutoff) {
			out = append(out, payment)
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
