package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomline/api/internal/platform/config"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/repositories"
	"github.com/loomline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory services.InventoryService
	Cart      services.CartService
	Coupons   services.CouponService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Payments  services.PaymentService
	System    services.SystemService
}

// Infrastructure carries the process-edge collaborators built in main. Every field is optional:
// a nil side-effect collaborator disables that side effect and a nil Locker falls back to an
// in-process mutex shared by all services.
type Infrastructure struct {
	Locker      lock.Locker
	Gateway     services.PaymentGateway
	Documents   services.DocumentRenderer
	Storage     services.ObjectStorage
	Mailer      services.Mailer
	Pusher      services.Pusher
	Events      services.OrderEventPublisher
	InvoicePath func(services.Order) string

	Logger func(context.Context, string, map[string]any)
	Clock  func() time.Time
	Build  services.BuildInfo

	// Closers run in reverse order before the registry is closed.
	Closers []func(context.Context) error
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies. Production wiring passes Redis, GCS and Pub/Sub
// backed infrastructure while tests can supply the in-memory registry alone.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}
	if infra.Locker == nil {
		infra.Locker = lock.NewKeyedMutex()
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		closers:      infra.Closers,
	}, nil
}

// Close releases infrastructure clients and then the repository registry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if c.closers[i] == nil {
			continue
		}
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	pricing := services.PricingPolicy{
		TaxRateBps:            cfg.Pricing.TaxRateBps,
		ShippingFlat:          cfg.Pricing.ShippingFlat,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Inventory:       inventorySvc,
		Pricing:         pricing,
		Locker:          infra.Locker,
		Clock:           infra.Clock,
		DefaultCurrency: cfg.Cart.Currency,
		MaxLineQuantity: cfg.Cart.MaxLineQuantity,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Carts:   reg.Carts(),
		Pricing: pricing,
		Locker:  infra.Locker,
		Clock:   infra.Clock,
		Logger:  infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		UnitOfWork:    reg,
		Carts:         reg.Carts(),
		Orders:        reg.Orders(),
		Counters:      reg.Counters(),
		Profiles:      reg.Profiles(),
		Designers:     reg.Designers(),
		Notifications: reg.Notifications(),
		Pricing:       pricing,
		Locker:        infra.Locker,
		Documents:     infra.Documents,
		Storage:       infra.Storage,
		Mailer:        infra.Mailer,
		Pusher:        infra.Pusher,
		Events:        infra.Events,
		InvoicePath:   infra.InvoicePath,
		Clock:         infra.Clock,
		Logger:        infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Inventory: inventorySvc,
		Events:    infra.Events,
		Locker:    infra.Locker,
		Clock:     infra.Clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments: reg.Payments(),
		Carts:    reg.Carts(),
		Checkout: checkoutSvc,
		Gateway:  infra.Gateway,
		Clock:    infra.Clock,
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	build := infra.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = infra.Clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            infra.Clock,
		Build:            build,
		Logger:           infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
