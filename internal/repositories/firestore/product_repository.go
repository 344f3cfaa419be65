package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// ProductRepository reads catalog products from Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

// FindByID loads a product by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, pfirestore.NewError("products.find", codes.InvalidArgument, "product id is required")
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.find", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, pfirestore.WrapError("products.decode", err)
	}
	return productFromDocument(snap.Ref.ID, doc), nil
}

// Upsert replaces the product document.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return pfirestore.NewError("products.upsert", codes.InvalidArgument, "product id is required")
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	coll, err := r.provider.Collection(ctx, productsCollection)
	if err != nil {
		return pfirestore.WrapError("products.upsert", err)
	}
	return pfirestore.WrapError("products.upsert", pfirestore.SetDoc(ctx, coll.Doc(id), productToDocument(product)))
}
