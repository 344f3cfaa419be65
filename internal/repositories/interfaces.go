package repositories

import (
	"context"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Notifications() NotificationRepository
	Designers() DesignerRepository
	Profiles() ProfileRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository writes so that they commit together or not at all.
// Repositories called with the context passed to fn participate in the same unit.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog products and their size prices.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// InventoryRepository is the stock ledger. Reserve must be a single conditional decrement.
type InventoryRepository interface {
	Reserve(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error)
	Release(ctx context.Context, key domain.VariantKey, quantity int) (domain.InventoryStock, error)
	Get(ctx context.Context, key domain.VariantKey) (domain.InventoryStock, error)
	SetStock(ctx context.Context, key domain.VariantKey, available int) error
}

// CartRepository persists one cart document per user with optimistic versioning.
type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	// Save writes cart when the stored version equals expectedVersion (0 creates) and returns
	// the cart with its new version. A mismatch yields a conflict error.
	Save(ctx context.Context, cart domain.Cart, expectedVersion int64) (domain.Cart, error)
}

// CouponRepository stores coupons and their redemption sets.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// Redeem appends userID to the redeemed set iff absent; a present entry yields a conflict error.
	Redeem(ctx context.Context, code string, userID string, at time.Time) (domain.Coupon, error)
	// Withdraw removes userID from the redeemed set. Missing entries are ignored.
	Withdraw(ctx context.Context, code string, userID string) error
	Upsert(ctx context.Context, coupon domain.Coupon) error
}

// OrderRepository persists orders. Insert claims the order's checkout key and fails with a
// conflict when the key is already taken.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCheckoutKey(ctx context.Context, key string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// PaymentUpdate carries the fields written by a payment status transition.
type PaymentUpdate struct {
	Status         domain.PaymentStatus
	InstrumentType string
	FailureReason  string
	SettledAt      time.Time
}

// PaymentRepository stores payment records keyed by transaction id.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error)
	// Transition applies update only when the stored status equals from; otherwise it returns a conflict error.
	Transition(ctx context.Context, transactionID string, from domain.PaymentStatus, update PaymentUpdate) (domain.Payment, error)
	AttachOrder(ctx context.Context, transactionID string, orderID string) error
	// MarkUnfulfilled stamps reason on a paid payment that could not place its order.
	MarkUnfulfilled(ctx context.Context, transactionID string, reason string) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Payment, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
}

// DesignerRepository resolves designer contact details.
type DesignerRepository interface {
	FindByID(ctx context.Context, designerID string) (domain.Designer, error)
}

// ProfileRepository resolves customer contact details.
type ProfileRepository interface {
	FindByID(ctx context.Context, userID string) (domain.CustomerProfile, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
