package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// CartRepository persists carts using the owning user id as document identifier.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

// FindByUser returns the cart owned by userID.
func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, pfirestore.NewError("carts.find_by_user", codes.InvalidArgument, "user id is required")
	}
	coll, err := r.provider.Collection(ctx, cartsCollection)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.find_by_user", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(userID))
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.find_by_user", err)
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.decode", err)
	}
	return cartFromDocument(doc), nil
}

// FindByID looks a cart up by its own identifier.
func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, pfirestore.NewError("carts.find", codes.InvalidArgument, "cart id is required")
	}
	coll, err := r.provider.Collection(ctx, cartsCollection)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.find", err)
	}
	docs, _, err := pfirestore.DecodeAll[cartDocument](ctx, coll.Where("id", "==", cartID).Limit(1), "carts.find")
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, pfirestore.NewError("carts.find", codes.NotFound, "cart %q not found", cartID)
	}
	return cartFromDocument(docs[0]), nil
}

// Save writes cart when the stored version matches expectedVersion.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error) {
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" || strings.TrimSpace(cart.ID) == "" {
		return domain.Cart{}, pfirestore.NewError("carts.save", codes.InvalidArgument, "cart id and user id are required")
	}
	coll, err := r.provider.Collection(ctx, cartsCollection)
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.save", err)
	}
	ref := coll.Doc(userID)

	saved := cart
	saved.Version = expectedVersion + 1
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		var current int64
		switch {
		case err == nil:
			var doc cartDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode cart %s: %w", userID, err)
			}
			current = doc.Version
		case isNotFoundErr(err):
			current = 0
		default:
			return err
		}
		if current != expectedVersion {
			return pfirestore.NewError("carts.save", codes.FailedPrecondition, "cart version is %d, expected %d", current, expectedVersion)
		}
		return tx.Set(ref, cartToDocument(saved))
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.save", err)
	}
	return saved, nil
}
