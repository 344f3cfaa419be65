package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a paginated response with the next page token when more results exist.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address captures a postal address snapshot.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Product is the catalog entry a cart line refers to. Stock is tracked separately in the ledger.
type Product struct {
	ID           string
	Name         string
	DesignerID   string
	Currency     string
	Customizable bool
	Variants     []ProductVariant
	UpdatedAt    time.Time
}

// ProductVariant groups the sizes offered for one color.
type ProductVariant struct {
	Color string
	Sizes []SizeOption
}

// SizeOption is a purchasable size with its own unit price.
type SizeOption struct {
	Size  string
	Price int64
}

// VariantKey identifies one stock counter in the inventory ledger.
type VariantKey struct {
	ProductID string
	Color     string
	Size      string
}

// String renders the key in the document id form used by the stores.
func (k VariantKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ProductID, k.Color, k.Size)
}

// Normalize trims surrounding whitespace from every component.
func (k VariantKey) Normalize() VariantKey {
	return VariantKey{
		ProductID: strings.TrimSpace(k.ProductID),
		Color:     strings.TrimSpace(k.Color),
		Size:      strings.TrimSpace(k.Size),
	}
}

// Valid reports whether every component is present.
func (k VariantKey) Valid() bool {
	n := k.Normalize()
	return n.ProductID != "" && n.Color != "" && n.Size != ""
}

// InventoryStock is the ledger row for a single variant key.
type InventoryStock struct {
	Key       VariantKey
	Available int
	UpdatedAt time.Time
}

// Cart is the per-user mutable basket. Totals are always derived from Items.
type Cart struct {
	ID              string
	UserID          string
	Currency        string
	Items           []CartItem
	Subtotal        int64
	TaxAmount       int64
	ShippingCost    int64
	DiscountApplied bool
	// DiscountAmount is the discount in effect: CouponValue capped at the subtotal.
	DiscountAmount int64
	// CouponValue is the face value of the applied coupon.
	CouponValue int64
	CouponCode  string
	TotalAmount int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsEmpty reports whether the cart carries no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// CartItem is one line in a cart, unique per (product, size, color).
type CartItem struct {
	ProductID     string
	ProductName   string
	DesignerID    string
	UnitPrice     int64
	Quantity      int
	Size          string
	Color         string
	Customizable  bool
	Customization map[string]string
	AddedAt       time.Time
	UpdatedAt     time.Time
}

// Key returns the ledger key of the line.
func (i CartItem) Key() VariantKey {
	return VariantKey{ProductID: i.ProductID, Color: i.Color, Size: i.Size}
}

// Coupon is a global flat-amount discount code.
type Coupon struct {
	Code       string
	Amount     int64
	ExpiresAt  time.Time
	Active     bool
	RedeemedBy []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RedeemedByUser reports whether userID already used the coupon.
func (c Coupon) RedeemedByUser(userID string) bool {
	for _, id := range c.RedeemedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPlaced is the entry state reached by the checkout transition.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusProcessing indicates designers are preparing the items.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal; stock has been released.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned is terminal; every line went through the return flow.
	OrderStatusReturned OrderStatus = "returned"
)

// ReturnState tracks the per-line return sub-state.
type ReturnState string

const (
	ReturnNotRequested ReturnState = "not_requested"
	ReturnRequested    ReturnState = "requested"
	ReturnInReview     ReturnState = "in_review"
	ReturnResolved     ReturnState = "resolved"
)

// Order is the immutable snapshot produced by checkout. Only status fields change afterwards.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CartID          string
	Currency        string
	Items           []OrderLineItem
	Subtotal        int64
	DiscountAmount  int64
	CouponCode      string
	TaxAmount       int64
	ShippingCost    int64
	TotalAmount     int64
	PaymentMethod   string
	PaymentRef      string
	Status          OrderStatus
	ShippingAddress *Address
	CheckoutKey     string
	InvoiceURL      string
	Timestamps      OrderTimestamps
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderTimestamps records when each status was reached.
type OrderTimestamps struct {
	PlacedAt     time.Time
	ProcessingAt *time.Time
	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	ReturnedAt   *time.Time
}

// OrderLineItem snapshots a cart line at checkout time.
type OrderLineItem struct {
	ProductID     string
	ProductName   string
	DesignerID    string
	UnitPrice     int64
	Quantity      int
	Size          string
	Color         string
	Customization map[string]string
	ReturnState   ReturnState
	ReturnReason  string
}

// Key returns the ledger key of the line.
func (i OrderLineItem) Key() VariantKey {
	return VariantKey{ProductID: i.ProductID, Color: i.Color, Size: i.Size}
}

// DesignerIDs returns the distinct designer ids in line order.
func (o Order) DesignerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		id := strings.TrimSpace(item.DesignerID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// PaymentStatus enumerates payment record states.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// Payment is created before the external payment step and settled by the webhook.
type Payment struct {
	TransactionID string
	UserID        string
	CartID        string
	// CartVersion is the cart version that was priced into Amount.
	CartVersion    int64
	Amount         int64
	Currency       string
	Method         string
	Provider       string
	ProviderRef    string
	Status         PaymentStatus
	InstrumentType string
	FailureReason  string
	OrderID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SettledAt      *time.Time
}

// Designer owns products and receives order notifications.
type Designer struct {
	ID    string
	Name  string
	Email string
}

// CustomerProfile holds the purchaser contact details used by checkout side effects.
type CustomerProfile struct {
	ID              string
	Name            string
	Email           string
	PushToken       string
	ShippingAddress *Address
}

// Notification is an in-app message stored for a designer or customer.
type Notification struct {
	ID          string
	RecipientID string
	Kind        string
	OrderID     string
	Message     string
	Read        bool
	CreatedAt   time.Time
}

// HealthStatus summarises readiness of a dependency or of the whole service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the outcome of probing one dependency.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
