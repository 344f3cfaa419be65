package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// GetDoc reads ref through the transaction on ctx when present.
func GetDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := TransactionFrom(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

// SetDoc writes data to ref through the transaction on ctx when present.
func SetDoc(ctx context.Context, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	if tx, ok := TransactionFrom(ctx); ok {
		return tx.Set(ref, data, opts...)
	}
	_, err := ref.Set(ctx, data, opts...)
	return err
}

// CreateDoc creates ref and fails with AlreadyExists when it is present. Inside a transaction the
// failure surfaces at commit time.
func CreateDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TransactionFrom(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

// DecodeAll drains a query iterator into T values.
func DecodeAll[T any](ctx context.Context, query firestore.Query, op string) ([]T, []*firestore.DocumentSnapshot, error) {
	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFrom(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var (
		out   []T
		snaps []*firestore.DocumentSnapshot
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, WrapError(op, err)
		}
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, nil, WrapError(op, err)
		}
		out = append(out, value)
		snaps = append(snaps, snap)
	}
	return out, snaps, nil
}
