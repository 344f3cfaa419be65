package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository backs order numbers with one document per sequence, e.g. "orders:2025".
type CounterRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, now: time.Now}, nil
}

// Next adds step to the sequence inside a transaction and returns the new value. The first call
// on a sequence starts it at step. A step of zero or less repeats the last stored step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, pfirestore.NewError(op, codes.InvalidArgument, "counter id is required")
	}
	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	ref := coll.Doc(id)

	var value int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case isNotFoundErr(err):
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		}

		if step > 0 {
			doc.Step = step
		} else if doc.Step <= 0 {
			doc.Step = 1
		}
		doc.CurrentValue += doc.Step
		doc.UpdatedAt = r.now().UTC()
		value = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	return value, nil
}
