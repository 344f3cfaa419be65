package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is the body of a transaction. ctx carries tx, so the document helpers in this package
// and nested RunTransaction calls join it.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type txKey struct{}

func withTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFrom returns the transaction bound to ctx by RunTransaction.
func TransactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, _ := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, tx != nil
}

// txPolicy bounds how long and how often a transaction body is retried under contention.
type txPolicy struct {
	attempts int
	timeout  time.Duration
}

func (p txPolicy) run(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	// Keep a caller deadline that is already tighter than the policy.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > p.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTransaction(ctx, tx), tx)
	}, firestore.MaxAttempts(p.attempts))
	return WrapError("transaction", err)
}
