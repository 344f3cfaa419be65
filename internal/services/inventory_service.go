package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomline/api/internal/repositories"
)

var errInventoryRepositoryRequired = errors.New("inventory service: repository is required")

// ErrInventoryInvalidInput indicates a malformed variant key or quantity.
var ErrInventoryInvalidInput = errors.New("inventory service: invalid input")

// ErrInsufficientStock indicates the ledger cannot cover the requested quantity.
var ErrInsufficientStock = errors.New("inventory service: insufficient stock")

// ErrStockNotFound indicates the variant key has no ledger entry.
var ErrStockNotFound = errors.New("inventory service: stock not found")

// ErrInventoryUnavailable indicates the ledger backend failed.
var ErrInventoryUnavailable = errors.New("inventory service: unavailable")

// InventoryServiceDeps wires the ledger repository.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Logger    func(context.Context, string, map[string]any)
}

type inventoryService struct {
	repo   repositories.InventoryRepository
	logger eventLogger
}

// NewInventoryService constructs the ledger facade used by cart, checkout and order flows.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errInventoryRepositoryRequired
	}
	return &inventoryService{
		repo:   deps.Inventory,
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, key VariantKey, quantity int) (InventoryStock, error) {
	key, err := validateMovement(key, quantity)
	if err != nil {
		return InventoryStock{}, err
	}
	stock, err := s.repo.Reserve(ctx, key, quantity)
	if err != nil {
		return InventoryStock{}, translateInventoryError(err)
	}
	s.logger(ctx, "inventory.reserved", map[string]any{
		"key":       key.String(),
		"quantity":  quantity,
		"available": stock.Available,
	})
	return stock, nil
}

func (s *inventoryService) Release(ctx context.Context, key VariantKey, quantity int) (InventoryStock, error) {
	key, err := validateMovement(key, quantity)
	if err != nil {
		return InventoryStock{}, err
	}
	stock, err := s.repo.Release(ctx, key, quantity)
	if err != nil {
		return InventoryStock{}, translateInventoryError(err)
	}
	s.logger(ctx, "inventory.released", map[string]any{
		"key":       key.String(),
		"quantity":  quantity,
		"available": stock.Available,
	})
	return stock, nil
}

func (s *inventoryService) Available(ctx context.Context, key VariantKey) (InventoryStock, error) {
	if !key.Valid() {
		return InventoryStock{}, ErrInventoryInvalidInput
	}
	stock, err := s.repo.Get(ctx, key.Normalize())
	if err != nil {
		return InventoryStock{}, translateInventoryError(err)
	}
	return stock, nil
}

func (s *inventoryService) SetStock(ctx context.Context, key VariantKey, available int) (InventoryStock, error) {
	if !key.Valid() || available < 0 {
		return InventoryStock{}, ErrInventoryInvalidInput
	}
	key = key.Normalize()
	if err := s.repo.SetStock(ctx, key, available); err != nil {
		return InventoryStock{}, translateInventoryError(err)
	}
	stock, err := s.repo.Get(ctx, key)
	if err != nil {
		return InventoryStock{}, translateInventoryError(err)
	}
	return stock, nil
}

func validateMovement(key VariantKey, quantity int) (VariantKey, error) {
	if !key.Valid() {
		return VariantKey{}, fmt.Errorf("%w: product, color and size are required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return VariantKey{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	return key.Normalize(), nil
}

func translateInventoryError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrStockNotFound
		case repoErr.IsConflict():
			return ErrInsufficientStock
		}
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}
