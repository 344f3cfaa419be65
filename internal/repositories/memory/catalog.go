package memory

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[strings.TrimSpace(productID)]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.find", "product", productID)
	}
	return cloneProduct(product), nil
}

func (r productRepo) Upsert(ctx context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.products[product.ID]
	r.s.products[product.ID] = cloneProduct(product)
	r.s.onRollback(ctx, func() {
		if existed {
			r.s.products[product.ID] = prev
		} else {
			delete(r.s.products, product.ID)
		}
	})
	return nil
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) Reserve(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	return r.move(ctx, "inventory.reserve", key, -quantity, quantity)
}

func (r inventoryRepo) Release(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error) {
	return r.move(ctx, "inventory.release", key, quantity, quantity)
}

func (r inventoryRepo) move(ctx context.Context, op string, key domain.VariantKey, delta, quantity int) (domain.InventoryStock, error) {
	if quantity <= 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity must be positive, got %d", quantity), nil)
	}
	key = key.Normalize()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.stock[key]
	if !ok {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), nil)
	}
	if row.Available+delta < 0 {
		return domain.InventoryStock{}, repositories.NewInventoryError(op, repositories.InventoryErrorInsufficientStock, fmt.Sprintf("requested %d of %s, %d available", quantity, key, row.Available), nil)
	}
	row.Available += delta
	row.UpdatedAt = r.s.now()
	r.s.stock[key] = row
	r.s.onRollback(ctx, func() {
		current := r.s.stock[key]
		current.Available -= delta
		r.s.stock[key] = current
	})
	return row, nil
}

func (r inventoryRepo) Get(_ context.Context, key domain.VariantKey) (domain.InventoryStock, error) {
	key = key.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.stock[key]
	if !ok {
		return domain.InventoryStock{}, repositories.NewInventoryError("inventory.get", repositories.InventoryErrorStockNotFound, fmt.Sprintf("no stock recorded for %s", key), nil)
	}
	return row, nil
}

func (r inventoryRepo) SetStock(ctx context.Context, key domain.VariantKey, available int) error {
	if !key.Valid() || available < 0 {
		return repositories.NewInventoryError("inventory.set", repositories.InventoryErrorInvalidQuantity, "variant key and non-negative quantity are required", nil)
	}
	key = key.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.stock[key]
	r.s.stock[key] = domain.InventoryStock{Key: key, Available: available, UpdatedAt: r.s.now()}
	r.s.onRollback(ctx, func() {
		if existed {
			r.s.stock[key] = prev
		} else {
			delete(r.s.stock, key)
		}
	})
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	out := p
	out.Variants = make([]domain.ProductVariant, len(p.Variants))
	for i, v := range p.Variants {
		out.Variants[i] = domain.ProductVariant{Color: v.Color, Sizes: append([]domain.SizeOption(nil), v.Sizes...)}
	}
	return out
}
