package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
	"github.com/loomline/api/internal/repositories/memory"
)

const testSeed = `
products:
  - id: prod-tee
    name: Tee
    designerId: designer-1
    currency: usd
    customizable: true
    variants:
      - color: black
        sizes:
          - {size: M, price: 100}
          - {size: L, price: 50}
  - id: prod-cap
    name: Cap
    designerId: designer-2
    currency: usd
    variants:
      - color: blue
        sizes:
          - {size: OS, price: 75}
stock:
  - {productId: prod-tee, color: black, size: M, available: 5}
  - {productId: prod-tee, color: black, size: L, available: 5}
  - {productId: prod-cap, color: blue, size: OS, available: 3}
coupons:
  - {code: save10, amount: 10, expiresAt: 2030-01-01T00:00:00Z}
  - {code: old, amount: 10, expiresAt: 2020-01-01T00:00:00Z}
  - {code: off, amount: 10, expiresAt: 2030-01-01T00:00:00Z, active: false}
designers:
  - {id: designer-1, name: Studio One, email: one@example.com}
  - {id: designer-2, name: Studio Two, email: two@example.com}
profiles:
  - {id: user-1, name: Sam Buyer, email: sam@example.com, pushToken: device-1}
`

var (
	keyTeeM = domain.VariantKey{ProductID: "prod-tee", Color: "black", Size: "M"}
	keyTeeL = domain.VariantKey{ProductID: "prod-tee", Color: "black", Size: "L"}
	keyCap  = domain.VariantKey{ProductID: "prod-cap", Color: "blue", Size: "OS"}
)

// testPricing reproduces tax 10 and shipping 20 on a 250 subtotal.
var testPricing = PricingPolicy{TaxRateBps: 400, ShippingFlat: 20}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, email Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, email := range m.sent {
		out = append(out, email.To)
	}
	return out
}

type recordingPusher struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (p *recordingPusher) Send(_ context.Context, token, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tokens = append(p.tokens, token)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (e *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Type)
	}
	return out
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	putErr  error
}

func (o *memoryObjects) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.putErr != nil {
		return "", o.putErr
	}
	if o.objects == nil {
		o.objects = map[string][]byte{}
	}
	o.objects[path] = data
	return "https://cdn.example.com/" + path, nil
}

func (o *memoryObjects) Delete(_ context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, path)
	o.deleted = append(o.deleted, path)
	return nil
}

type stubDocuments struct{}

func (stubDocuments) RenderInvoice(_ context.Context, order Order, _ CustomerProfile) ([]byte, error) {
	return []byte("<html>" + order.OrderNumber + "</html>"), nil
}

func (stubDocuments) RenderPurchaserEmail(_ context.Context, order Order, customer CustomerProfile) (Email, error) {
	return Email{To: customer.Email, Subject: "Order " + order.OrderNumber, HTML: "<p>thanks</p>"}, nil
}

func (stubDocuments) RenderDesignerEmail(_ context.Context, order Order, designer Designer) (Email, error) {
	return Email{To: designer.Email, Subject: "New order " + order.OrderNumber, HTML: "<p>new order</p>"}, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	created   []payments.IntentRequest
	cancelled []string
	status    payments.Status
	err       error
}

func (g *fakeGateway) CreateIntent(_ context.Context, _ payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payments.Intent{}, g.err
	}
	g.created = append(g.created, req)
	return payments.Intent{Provider: "stripe", IntentID: "pi_" + req.TransactionID, ClientSecret: "secret_" + req.TransactionID, Status: payments.StatusPending}, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, _ payments.PaymentContext, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, intentID)
	return nil
}

func (g *fakeGateway) LookupPayment(_ context.Context, _ payments.PaymentContext, intentID string) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := g.status
	if status == "" {
		status = payments.StatusPending
	}
	return payments.PaymentDetails{Provider: "stripe", IntentID: intentID, Status: status}, nil
}

// failingCarts delegates to a real cart repository but fails Save while failSave is set.
type failingCarts struct {
	repositories.CartRepository
	failSave bool
}

func (f *failingCarts) Save(ctx context.Context, cart domain.Cart, expected int64) (domain.Cart, error) {
	if f.failSave {
		return domain.Cart{}, repositories.NewUnavailableError("carts.save", errors.New("backend down"))
	}
	return f.CartRepository.Save(ctx, cart, expected)
}

// failingOrderUpdates delegates to a real order repository but rejects Update.
type failingOrderUpdates struct {
	repositories.OrderRepository
}

func (f failingOrderUpdates) Update(context.Context, domain.Order) error {
	return repositories.NewUnavailableError("orders.update", errors.New("backend down"))
}

type testEnv struct {
	clock     *testClock
	store     *memory.Store
	inventory InventoryService
	carts     CartService
	coupons   CouponService
	checkout  CheckoutService
	orders    OrderService
	payments  PaymentService

	mailer  *recordingMailer
	pusher  *recordingPusher
	events  *recordingEvents
	objects *memoryObjects
	gateway *fakeGateway
	logs    *logRecorder
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
}

func (l *logRecorder) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *logRecorder) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

type envOption func(*envConfig)

type envConfig struct {
	carts  func(repositories.CartRepository) repositories.CartRepository
	orders func(repositories.OrderRepository) repositories.OrderRepository
}

func withCarts(wrap func(repositories.CartRepository) repositories.CartRepository) envOption {
	return func(c *envConfig) { c.carts = wrap }
}

func withOrders(wrap func(repositories.OrderRepository) repositories.OrderRepository) envOption {
	return func(c *envConfig) { c.orders = wrap }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		carts:  func(r repositories.CartRepository) repositories.CartRepository { return r },
		orders: func(r repositories.OrderRepository) repositories.OrderRepository { return r },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	seed, err := memory.ParseSeed([]byte(testSeed))
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	clock := newTestClock()
	store := memory.New(memory.WithClock(clock.Now), memory.WithSeed(seed))

	env := &testEnv{
		clock:   clock,
		store:   store,
		mailer:  &recordingMailer{},
		pusher:  &recordingPusher{},
		events:  &recordingEvents{},
		objects: &memoryObjects{},
		gateway: &fakeGateway{},
		logs:    &logRecorder{},
	}
	carts := cfg.carts(store.Carts())
	orders := cfg.orders(store.Orders())

	env.inventory, err = NewInventoryService(InventoryServiceDeps{Inventory: store.Inventory()})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	env.carts, err = NewCartService(CartServiceDeps{
		Carts:     carts,
		Products:  store.Products(),
		Inventory: env.inventory,
		Pricing:   testPricing,
		Clock:     clock.Now,
		Logger:    env.logs.log,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	env.coupons, err = NewCouponService(CouponServiceDeps{
		Coupons: store.Coupons(),
		Carts:   carts,
		Pricing: testPricing,
		Clock:   clock.Now,
		Logger:  env.logs.log,
	})
	if err != nil {
		t.Fatalf("coupon service: %v", err)
	}
	env.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		UnitOfWork:    store,
		Carts:         carts,
		Orders:        orders,
		Counters:      store.Counters(),
		Profiles:      store.Profiles(),
		Designers:     store.Designers(),
		Notifications: store.Notifications(),
		Pricing:       testPricing,
		Documents:     stubDocuments{},
		Storage:       env.objects,
		Mailer:        env.mailer,
		Pusher:        env.pusher,
		Events:        env.events,
		Clock:         clock.Now,
		Logger:        env.logs.log,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	env.orders, err = NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Inventory: env.inventory,
		Events:    env.events,
		Clock:     clock.Now,
		Logger:    env.logs.log,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	txn := 0
	env.payments, err = NewPaymentService(PaymentServiceDeps{
		Payments: store.Payments(),
		Carts:    carts,
		Checkout: env.checkout,
		Gateway:  env.gateway,
		Clock:    clock.Now,
		Logger:   env.logs.log,
		IDGenerator: func() string {
			txn++
			return fmt.Sprintf("TX%04d", txn)
		},
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	return env
}

func (e *testEnv) stock(t *testing.T, key domain.VariantKey) int {
	t.Helper()
	row, err := e.inventory.Available(context.Background(), key)
	if err != nil {
		t.Fatalf("available %s: %v", key, err)
	}
	return row.Available
}

func (e *testEnv) add(t *testing.T, userID string, key domain.VariantKey, qty int) Cart {
	t.Helper()
	cart, err := e.carts.AddItem(context.Background(), AddCartItemCommand{
		UserID:    userID,
		ProductID: key.ProductID,
		Color:     key.Color,
		Size:      key.Size,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("add %s x%d: %v", key, qty, err)
	}
	return cart
}

// fill250 builds the cart [{100 x2}, {50 x1}] for user.
func (e *testEnv) fill250(t *testing.T, userID string) Cart {
	t.Helper()
	e.add(t, userID, keyTeeM, 2)
	return e.add(t, userID, keyTeeL, 1)
}

func assertTotalsConsistent(t *testing.T, cart Cart) {
	t.Helper()
	if got := domain.Subtotal(cart.Items); cart.Subtotal != got {
		t.Fatalf("subtotal %d does not match lines %d", cart.Subtotal, got)
	}
	if want := cart.Subtotal - cart.DiscountAmount + cart.TaxAmount + cart.ShippingCost; cart.TotalAmount != want {
		t.Fatalf("total %d does not match formula %d", cart.TotalAmount, want)
	}
}
