// Package memory provides an in-process implementation of every repository. It backs local
// development (API_STORE_BACKEND=memory) and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

// Store holds all entities behind a single mutex. Each repository call is atomic on its own;
// RunInTx additionally records compensations so a failed unit leaves no partial writes.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	products      map[string]domain.Product
	stock         map[domain.VariantKey]domain.InventoryStock
	carts         map[string]domain.Cart // keyed by user id
	coupons       map[string]domain.Coupon
	orders        map[string]domain.Order
	checkoutKeys  map[string]string
	payments      map[string]domain.Payment
	notifications []domain.Notification
	designers     map[string]domain.Designer
	profiles      map[string]domain.CustomerProfile
	counters      map[string]int64

	txMu sync.Mutex

	inventory   repositories.InventoryRepository
	extraChecks []repositories.DependencyCheck
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Option customises the store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSeed loads fixtures into the new store.
func WithSeed(seed Seed) Option {
	return func(s *Store) {
		s.applySeed(seed)
	}
}

// WithInventory replaces the in-memory stock ledger, e.g. with the SQL ledger.
func WithInventory(repo repositories.InventoryRepository) Option {
	return func(s *Store) {
		if repo != nil {
			s.inventory = repo
		}
	}
}

// WithHealthChecks adds probes reported next to the store's own.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(s *Store) {
		s.extraChecks = append(s.extraChecks, checks...)
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		products:     make(map[string]domain.Product),
		stock:        make(map[domain.VariantKey]domain.InventoryStock),
		carts:        make(map[string]domain.Cart),
		coupons:      make(map[string]domain.Coupon),
		orders:       make(map[string]domain.Order),
		checkoutKeys: make(map[string]string),
		payments:     make(map[string]domain.Payment),
		designers:    make(map[string]domain.Designer),
		profiles:     make(map[string]domain.CustomerProfile),
		counters:     make(map[string]int64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	checks := append([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}, s.extraChecks...)
	s.health, _ = repositories.NewDependencyHealthRepository(s.now, checks...)
	return s
}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

type undoKey struct{}

func (l *undoLog) push(fn func()) {
	l.mu.Lock()
	l.steps = append(l.steps, fn)
	l.mu.Unlock()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// RunInTx serialises units of work and rolls back their writes when fn fails. Nested calls join
// the outer unit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, undoKey{}, log)); err != nil {
		log.rollback()
		return err
	}
	return nil
}

// onRollback registers fn to run if the unit of work carried by ctx fails. Callers must not hold
// s.mu when the compensation runs, so fn acquires it itself.
func (s *Store) onRollback(ctx context.Context, fn func()) {
	if log, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		log.push(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			fn()
		})
	}
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Inventory() repositories.InventoryRepository {
	if s.inventory != nil {
		return s.inventory
	}
	return inventoryRepo{s}
}
func (s *Store) Carts() repositories.CartRepository                 { return cartRepo{s} }
func (s *Store) Coupons() repositories.CouponRepository             { return couponRepo{s} }
func (s *Store) Orders() repositories.OrderRepository               { return orderRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository           { return paymentRepo{s} }
func (s *Store) Notifications() repositories.NotificationRepository { return notificationRepo{s} }
func (s *Store) Designers() repositories.DesignerRepository         { return designerRepo{s} }
func (s *Store) Profiles() repositories.ProfileRepository           { return profileRepo{s} }
func (s *Store) Counters() repositories.CounterRepository           { return counterRepo{s} }
func (s *Store) Health() repositories.HealthRepository              { return s.health }

// NotificationsFor returns the stored notifications addressed to recipientID.
func (s *Store) NotificationsFor(recipientID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

// PutDesigner stores a designer record.
func (s *Store) PutDesigner(designer domain.Designer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.designers[designer.ID] = designer
}

// PutProfile stores a customer profile.
func (s *Store) PutProfile(profile domain.CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
}
