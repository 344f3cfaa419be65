package services

import (
	"context"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Address         = domain.Address
	Product         = domain.Product
	VariantKey      = domain.VariantKey
	InventoryStock  = domain.InventoryStock
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Coupon          = domain.Coupon
	Order           = domain.Order
	OrderLineItem   = domain.OrderLineItem
	OrderStatus     = domain.OrderStatus
	Payment         = domain.Payment
	Designer        = domain.Designer
	CustomerProfile = domain.CustomerProfile
	Notification    = domain.Notification
)

// InventoryService exposes the stock ledger to the other services and to staff tooling.
type InventoryService interface {
	Reserve(ctx context.Context, key VariantKey, quantity int) (InventoryStock, error)
	Release(ctx context.Context, key VariantKey, quantity int) (InventoryStock, error)
	Available(ctx context.Context, key VariantKey) (InventoryStock, error)
	SetStock(ctx context.Context, key VariantKey, available int) (InventoryStock, error)
}

// CartService manages the per-user cart aggregate. Every mutation keeps stock and totals consistent.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
}

// CouponService applies single-use-per-user coupons to carts.
type CouponService interface {
	ApplyToCart(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
}

// CheckoutService turns a cart into an order exactly once per checkout key.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error)
}

// OrderService covers the order lifecycle after placement.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, userID string) (Order, error)
	ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	RequestReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error)
	ReviewReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error)
	ResolveReturn(ctx context.Context, cmd ReturnLineCommand) (Order, error)
}

// PaymentService creates payment records and reconciles provider notifications.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentSession, error)
	HandleWebhook(ctx context.Context, encodedPayload string) (WebhookResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (ExpireResult, error)
}

// SystemService reports service health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Collaborators used for checkout side effects --------------------------------

// ObjectStorage stores rendered artifacts and returns their public URL.
type ObjectStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Email is a rendered message ready for delivery.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers rendered emails.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// Pusher sends a push notification to a device token.
type Pusher interface {
	Send(ctx context.Context, token string, title string, body string) error
}

// DocumentRenderer produces the invoice and the checkout emails for an order.
type DocumentRenderer interface {
	RenderInvoice(ctx context.Context, order Order, customer CustomerProfile) ([]byte, error)
	RenderPurchaserEmail(ctx context.Context, order Order, customer CustomerProfile) (Email, error)
	RenderDesignerEmail(ctx context.Context, order Order, designer Designer) (Email, error)
}

// OrderEvent is published when an order is placed or changes status.
type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        string      `json:"orderId"`
	OrderNumber    string      `json:"orderNumber"`
	UserID         string      `json:"userId"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	TotalAmount    int64       `json:"totalAmount"`
	Currency       string      `json:"currency"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// TextSanitizer strips markup from customer supplied text.
type TextSanitizer interface {
	Sanitize(s string) string
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID        string
	ProductID     string
	Size          string
	Color         string
	Quantity      int
	Customization map[string]string
}

type UpdateCartItemCommand struct {
	UserID    string
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
	Size      string
	Color     string
}

// CartView is the read model returned by GetCart.
type CartView struct {
	Cart  Cart
	Lines []CartLineView
}

// CartLineView decorates a stored line with live catalog data.
type CartLineView struct {
	Item         CartItem
	ProductName  string
	CurrentPrice int64
	Customizable bool
	Available    bool
}

type ApplyCouponCommand struct {
	CartID string
	Code   string
	UserID string
}

type PlaceOrderCommand struct {
	UserID string
	// CartID is optional; when set it must name the user's cart.
	CartID          string
	CheckoutKey     string
	PaymentMethod   string
	PaymentRef      string
	ShippingAddress *Address
	// ExpectedCartVersion, when positive, pins the order to the cart a payment was priced on.
	// A cart at any other version, or with a total other than ExpectedTotal, is refused.
	ExpectedCartVersion int64
	ExpectedTotal       int64
}

type CheckoutResult struct {
	Order Order
	// Replayed is true when the checkout key was already claimed and the stored order is returned.
	Replayed bool
}

type CancelOrderCommand struct {
	OrderID string
	UserID  string
}

type OrderTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	ActorID string
}

type ReturnLineCommand struct {
	OrderID string
	UserID  string
	Line    int
	Reason  string
}

type InitiatePaymentCommand struct {
	UserID   string
	Method   string
	Provider string
}

type PaymentSession struct {
	Payment      Payment
	ClientSecret string
}

type WebhookResult struct {
	Payment Payment
	Order   *Order
	// Replayed is true when the notification repeated an already settled payment.
	Replayed bool
}

type ExpireResult struct {
	Expired int
	Skipped int
}

// SystemHealthReport extends the dependency report with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
