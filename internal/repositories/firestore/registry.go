package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// Registry wires every Firestore repository around one shared Provider.
type Registry struct {
	provider *pfirestore.Provider

	products      *ProductRepository
	inventory     repositories.InventoryRepository
	carts         *CartRepository
	coupons       *CouponRepository
	orders        *OrderRepository
	payments      *PaymentRepository
	notifications *NotificationRepository
	designers     *DesignerRepository
	profiles      *ProfileRepository
	counters      *CounterRepository
	health        repositories.HealthRepository

	extraChecks []repositories.DependencyCheck
	closers     []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithInventory replaces the Firestore ledger, e.g. with the SQL ledger.
func WithInventory(repo repositories.InventoryRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.inventory = repo
		}
	}
}

// WithHealthChecks adds probes reported next to Firestore's.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(r *Registry) {
		r.extraChecks = append(r.extraChecks, checks...)
	}
}

// WithCloser registers a hook run by Close after the provider is released.
func WithCloser(fn func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.closers = append(r.closers, fn)
		}
	}
}

// NewRegistry constructs every repository against provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.inventory == nil {
		if reg.inventory, err = NewInventoryRepository(provider); err != nil {
			return nil, err
		}
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.designers, err = NewDesignerRepository(provider); err != nil {
		return nil, err
	}
	if reg.profiles, err = NewProfileRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, reg.extraChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(time.Now, checks...); err != nil {
		return nil, err
	}
	return reg, nil
}

// RunInTx runs fn inside one Firestore transaction. Repositories called with the context passed
// to fn join it, so every read must happen before the first write.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

// Close releases the Firestore client and any registered closers.
func (r *Registry) Close(ctx context.Context) error {
	errs := []error{r.provider.Close(ctx)}
	for _, fn := range r.closers {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Inventory() repositories.InventoryRepository        { return r.inventory }
func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository             { return r.coupons }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository           { return r.payments }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Designers() repositories.DesignerRepository         { return r.designers }
func (r *Registry) Profiles() repositories.ProfileRepository           { return r.profiles }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }
