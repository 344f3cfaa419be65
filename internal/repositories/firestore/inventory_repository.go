package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// InventoryRepository keeps one stock document per variant key and moves stock only inside
// transactions so the availability check and the decrement commit atomically.
type InventoryRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Firestore-backed ledger.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reserve decrements stock by quantity iff at least quantity units are available.
func (r *InventoryRepository) Reserve(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	return r.move(ctx, "inventory.reserve", key, -quantity, quantity)
}

// Release returns quantity units to the ledger.
func (r *InventoryRepository) Release(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	return r.move(ctx, "inventory.release", key, quantity, quantity)
}

func (r *InventoryRepository) move(ctx context.Context, op string, key domain.VariantKey, delta int, quantity int) (domain.InventoryStock, error) {
	if quantity <= 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}
	if !key.Valid() {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, "variant key is incomplete", nil)
	}
	key = key.Normalize()

	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return domain.InventoryStock{}, pfirestore.WrapError(op, err)
	}
	ref := coll.Doc(docID(key))
	now := r.now()

	var result domain.InventoryStock
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFoundErr(err) {
				return repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), err)
			}
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode stock %s: %w", key, err)
		}
		if doc.Available+delta < 0 {
			return repositories.NewInventoryError(op, repositories.InventoryErrorInsufficientStock, fmt.Sprintf("requested %d of %s, %d available", quantity, key, doc.Available), nil)
		}
		doc.Available += delta
		doc.UpdatedAt = now
		if err := tx.Update(ref, []firestore.Update{
			{Path: "available", Value: doc.Available},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		result = domain.InventoryStock{Key: key, Available: doc.Available, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return domain.InventoryStock{}, pfirestore.WrapError(op, err)
	}
	return result, nil
}

// Get reads the current stock level.
func (r *InventoryRepository) Get(ctx context.Context, key domain.VariantKey) (domain.InventoryStock, error) {
	key = key.Normalize()
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return domain.InventoryStock{}, pfirestore.WrapError("inventory.get", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(docID(key)))
	if err != nil {
		if isNotFoundErr(err) {
			return domain.InventoryStock{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), err)
		}
		return domain.InventoryStock{}, pfirestore.WrapError("inventory.get", err)
	}
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.InventoryStock{}, pfirestore.WrapError("inventory.decode", err)
	}
	return domain.InventoryStock{Key: key, Available: doc.Available, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

// SetStock overwrites the available quantity, creating the row when missing.
func (r *InventoryRepository) SetStock(ctx context.Context, key domain.VariantKey, available int) error {
	if !key.Valid() || available < 0 {
		return repositories.NewInventoryError("inventory.set", repositories.InventoryErrorInvalidQuantity, "variant key and non-negative quantity are required", nil)
	}
	key = key.Normalize()
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return pfirestore.WrapError("inventory.set", err)
	}
	doc := stockDocument{
		ProductID: key.ProductID,
		Color:     key.Color,
		Size:      key.Size,
		Available: available,
		UpdatedAt: r.now(),
	}
	return pfirestore.WrapError("inventory.set", pfirestore.SetDoc(ctx, coll.Doc(docID(key)), doc))
}
