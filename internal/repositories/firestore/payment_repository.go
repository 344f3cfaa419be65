package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// PaymentRepository stores payment records keyed by merchant transaction id.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

func (r *PaymentRepository) ref(ctx context.Context, transactionID string) (*firestore.DocumentRef, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pfirestore.NewError("", codes.InvalidArgument, "transaction id is required")
	}
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(transactionID), nil
}

// Insert creates a payment record; an existing transaction id is a conflict.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	ref, err := r.ref(ctx, payment.TransactionID)
	if err != nil {
		return pfirestore.WrapError("payments.insert", err)
	}
	return pfirestore.WrapError("payments.insert", pfirestore.CreateDoc(ctx, ref, paymentToDocument(payment)))
}

// FindByTransactionID loads a payment record.
func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, ref)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.find", err)
	}
	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.decode", err)
	}
	return paymentFromDocument(ref.ID, doc), nil
}

// Transition moves the payment out of from. The status check and write share a transaction.
func (r *PaymentRepository) Transition(ctx context.Context, transactionID string, from domain.PaymentStatus, update repositories.PaymentUpdate) (domain.Payment, error) {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.transition", err)
	}
	var result domain.Payment
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", ref.ID, err)
		}
		if domain.PaymentStatus(doc.Status) != from {
			return pfirestore.NewError("payments.transition", codes.FailedPrecondition, "payment %s is %s, expected %s", ref.ID, doc.Status, from)
		}
		settled := update.SettledAt.UTC()
		doc.Status = string(update.Status)
		doc.InstrumentType = update.InstrumentType
		doc.FailureReason = update.FailureReason
		doc.UpdatedAt = settled
		doc.SettledAt = &settled
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = paymentFromDocument(ref.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Payment{}, pfirestore.WrapError("payments.transition", err)
	}
	return result, nil
}

// AttachOrder records the order produced by a settled payment.
func (r *PaymentRepository) AttachOrder(ctx context.Context, transactionID string, orderID string) error {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return pfirestore.WrapError("payments.attach_order", err)
	}
	updates := []firestore.Update{
		{Path: "orderId", Value: orderID},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		return pfirestore.WrapError("payments.attach_order", tx.Update(ref, updates))
	}
	_, err = ref.Update(ctx, updates)
	return pfirestore.WrapError("payments.attach_order", err)
}

// MarkUnfulfilled records why a settled payment has no order. A payment that already carries an
// order is left alone and reported as a conflict.
func (r *PaymentRepository) MarkUnfulfilled(ctx context.Context, transactionID string, reason string) error {
	ref, err := r.ref(ctx, transactionID)
	if err != nil {
		return pfirestore.WrapError("payments.mark_unfulfilled", err)
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", ref.ID, err)
		}
		if doc.OrderID != "" {
			return pfirestore.NewError("payments.mark_unfulfilled", codes.FailedPrecondition, "payment %s already has order %s", ref.ID, doc.OrderID)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "failureReason", Value: reason},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	return pfirestore.WrapError("payments.mark_unfulfilled", err)
}

// ListPendingBefore returns up to limit pending payments created before cutoff, oldest first.
func (r *PaymentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	coll, err := r.provider.Collection(ctx, paymentsCollection)
	if err != nil {
		return nil, pfirestore.WrapError("payments.list_pending", err)
	}
	query := coll.Where("status", "==", string(domain.PaymentStatusPending)).
		Where("createdAt", "<", cutoff.UTC()).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit)
	docs, snaps, err := pfirestore.DecodeAll[paymentDocument](ctx, query, "payments.list_pending")
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(docs))
	for i, doc := range docs {
		payments = append(payments, paymentFromDocument(snaps[i].Ref.ID, doc))
	}
	return payments, nil
}
