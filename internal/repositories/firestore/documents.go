package firestore

import (
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
)

const (
	productsCollection      = "products"
	inventoryCollection     = "inventory"
	cartsCollection         = "carts"
	couponsCollection       = "coupons"
	ordersCollection        = "orders"
	checkoutKeysCollection  = "checkoutKeys"
	paymentsCollection      = "payments"
	notificationsCollection = "notifications"
	designersCollection     = "designers"
	profilesCollection      = "profiles"
	countersCollection      = "counters"
)

type productDocument struct {
	Name         string            `firestore:"name"`
	DesignerID   string            `firestore:"designerId"`
	Currency     string            `firestore:"currency"`
	Customizable bool              `firestore:"customizable"`
	Variants     []variantDocument `firestore:"variants"`
	UpdatedAt    time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	Color string         `firestore:"color"`
	Sizes []sizeDocument `firestore:"sizes"`
}

type sizeDocument struct {
	Size  string `firestore:"size"`
	Price int64  `firestore:"price"`
}

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	Color     string    `firestore:"color"`
	Size      string    `firestore:"size"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type cartDocument struct {
	ID              string             `firestore:"id"`
	UserID          string             `firestore:"userId"`
	Currency        string             `firestore:"currency"`
	Items           []cartItemDocument `firestore:"items"`
	Subtotal        int64              `firestore:"subtotal"`
	TaxAmount       int64              `firestore:"taxAmount"`
	ShippingCost    int64              `firestore:"shippingCost"`
	DiscountApplied bool               `firestore:"discountApplied"`
	DiscountAmount  int64              `firestore:"discountAmount"`
	CouponValue     int64              `firestore:"couponValue,omitempty"`
	CouponCode      string             `firestore:"couponCode,omitempty"`
	TotalAmount     int64              `firestore:"totalAmount"`
	Version         int64              `firestore:"version"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID     string            `firestore:"productId"`
	ProductName   string            `firestore:"productName"`
	DesignerID    string            `firestore:"designerId"`
	UnitPrice     int64             `firestore:"unitPrice"`
	Quantity      int               `firestore:"quantity"`
	Size          string            `firestore:"size"`
	Color         string            `firestore:"color"`
	Customizable  bool              `firestore:"customizable"`
	Customization map[string]string `firestore:"customization,omitempty"`
	AddedAt       time.Time         `firestore:"addedAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

type couponDocument struct {
	Amount     int64     `firestore:"amount"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
	Active     bool      `firestore:"active"`
	RedeemedBy []string  `firestore:"redeemedBy"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type orderDocument struct {
	ID              string              `firestore:"id"`
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	CartID          string              `firestore:"cartId"`
	Currency        string              `firestore:"currency"`
	Items           []orderItemDocument `firestore:"items"`
	Subtotal        int64               `firestore:"subtotal"`
	DiscountAmount  int64               `firestore:"discountAmount"`
	CouponCode      string              `firestore:"couponCode,omitempty"`
	TaxAmount       int64               `firestore:"taxAmount"`
	ShippingCost    int64               `firestore:"shippingCost"`
	TotalAmount     int64               `firestore:"totalAmount"`
	PaymentMethod   string              `firestore:"paymentMethod,omitempty"`
	PaymentRef      string              `firestore:"paymentRef,omitempty"`
	Status          string              `firestore:"status"`
	ShippingAddress *addressDocument    `firestore:"shippingAddress,omitempty"`
	CheckoutKey     string              `firestore:"checkoutKey"`
	InvoiceURL      string              `firestore:"invoiceUrl,omitempty"`
	PlacedAt        time.Time           `firestore:"placedAt"`
	ProcessingAt    *time.Time          `firestore:"processingAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	ReturnedAt      *time.Time          `firestore:"returnedAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID     string            `firestore:"productId"`
	ProductName   string            `firestore:"productName"`
	DesignerID    string            `firestore:"designerId"`
	UnitPrice     int64             `firestore:"unitPrice"`
	Quantity      int               `firestore:"quantity"`
	Size          string            `firestore:"size"`
	Color         string            `firestore:"color"`
	Customization map[string]string `firestore:"customization,omitempty"`
	ReturnState   string            `firestore:"returnState"`
	ReturnReason  string            `firestore:"returnReason,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type checkoutKeyDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type paymentDocument struct {
	UserID         string     `firestore:"userId"`
	CartID         string     `firestore:"cartId"`
	CartVersion    int64      `firestore:"cartVersion"`
	Amount         int64      `firestore:"amount"`
	Currency       string     `firestore:"currency"`
	Method         string     `firestore:"method"`
	Provider       string     `firestore:"provider"`
	ProviderRef    string     `firestore:"providerRef,omitempty"`
	Status         string     `firestore:"status"`
	InstrumentType string     `firestore:"instrumentType,omitempty"`
	FailureReason  string     `firestore:"failureReason,omitempty"`
	OrderID        string     `firestore:"orderId,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
	SettledAt      *time.Time `firestore:"settledAt,omitempty"`
}

type notificationDocument struct {
	RecipientID string    `firestore:"recipientId"`
	Kind        string    `firestore:"kind"`
	OrderID     string    `firestore:"orderId,omitempty"`
	Message     string    `firestore:"message"`
	Read        bool      `firestore:"read"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type designerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
}

type profileDocument struct {
	Name            string           `firestore:"name"`
	Email           string           `firestore:"email"`
	PushToken       string           `firestore:"pushToken,omitempty"`
	ShippingAddress *addressDocument `firestore:"shippingAddress,omitempty"`
}

// docID makes a ledger key safe for use as a Firestore document id.
func docID(key domain.VariantKey) string {
	return strings.ReplaceAll(key.Normalize().String(), "/", "_")
}

func productFromDocument(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:           id,
		Name:         doc.Name,
		DesignerID:   doc.DesignerID,
		Currency:     doc.Currency,
		Customizable: doc.Customizable,
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	for _, v := range doc.Variants {
		variant := domain.ProductVariant{Color: v.Color}
		for _, s := range v.Sizes {
			variant.Sizes = append(variant.Sizes, domain.SizeOption{Size: s.Size, Price: s.Price})
		}
		product.Variants = append(product.Variants, variant)
	}
	return product
}

func productToDocument(product domain.Product) productDocument {
	doc := productDocument{
		Name:         product.Name,
		DesignerID:   product.DesignerID,
		Currency:     product.Currency,
		Customizable: product.Customizable,
		UpdatedAt:    product.UpdatedAt.UTC(),
	}
	for _, v := range product.Variants {
		variant := variantDocument{Color: v.Color}
		for _, s := range v.Sizes {
			variant.Sizes = append(variant.Sizes, sizeDocument{Size: s.Size, Price: s.Price})
		}
		doc.Variants = append(doc.Variants, variant)
	}
	return doc
}

func cartFromDocument(doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:              doc.ID,
		UserID:          doc.UserID,
		Currency:        doc.Currency,
		Subtotal:        doc.Subtotal,
		TaxAmount:       doc.TaxAmount,
		ShippingCost:    doc.ShippingCost,
		DiscountApplied: doc.DiscountApplied,
		DiscountAmount:  doc.DiscountAmount,
		CouponValue:     doc.CouponValue,
		CouponCode:      doc.CouponCode,
		TotalAmount:     doc.TotalAmount,
		Version:         doc.Version,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			DesignerID:    item.DesignerID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Color:         item.Color,
			Customizable:  item.Customizable,
			Customization: item.Customization,
			AddedAt:       item.AddedAt.UTC(),
			UpdatedAt:     item.UpdatedAt.UTC(),
		})
	}
	return cart
}

func cartToDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		ID:              cart.ID,
		UserID:          cart.UserID,
		Currency:        cart.Currency,
		Items:           make([]cartItemDocument, 0, len(cart.Items)),
		Subtotal:        cart.Subtotal,
		TaxAmount:       cart.TaxAmount,
		ShippingCost:    cart.ShippingCost,
		DiscountApplied: cart.DiscountApplied,
		DiscountAmount:  cart.DiscountAmount,
		CouponValue:     cart.CouponValue,
		CouponCode:      cart.CouponCode,
		TotalAmount:     cart.TotalAmount,
		Version:         cart.Version,
		CreatedAt:       cart.CreatedAt.UTC(),
		UpdatedAt:       cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			DesignerID:    item.DesignerID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Color:         item.Color,
			Customizable:  item.Customizable,
			Customization: item.Customization,
			AddedAt:       item.AddedAt.UTC(),
			UpdatedAt:     item.UpdatedAt.UTC(),
		})
	}
	return doc
}

func orderFromDocument(doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              doc.ID,
		OrderNumber:     doc.OrderNumber,
		UserID:          doc.UserID,
		CartID:          doc.CartID,
		Currency:        doc.Currency,
		Subtotal:        doc.Subtotal,
		DiscountAmount:  doc.DiscountAmount,
		CouponCode:      doc.CouponCode,
		TaxAmount:       doc.TaxAmount,
		ShippingCost:    doc.ShippingCost,
		TotalAmount:     doc.TotalAmount,
		PaymentMethod:   doc.PaymentMethod,
		PaymentRef:      doc.PaymentRef,
		Status:          domain.OrderStatus(doc.Status),
		ShippingAddress: addressFromDocument(doc.ShippingAddress),
		CheckoutKey:     doc.CheckoutKey,
		InvoiceURL:      doc.InvoiceURL,
		Timestamps: domain.OrderTimestamps{
			PlacedAt:     doc.PlacedAt.UTC(),
			ProcessingAt: doc.ProcessingAt,
			ShippedAt:    doc.ShippedAt,
			DeliveredAt:  doc.DeliveredAt,
			CancelledAt:  doc.CancelledAt,
			ReturnedAt:   doc.ReturnedAt,
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			DesignerID:    item.DesignerID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Color:         item.Color,
			Customization: item.Customization,
			ReturnState:   domain.ReturnState(item.ReturnState),
			ReturnReason:  item.ReturnReason,
		})
	}
	return order
}

func orderToDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		CartID:          order.CartID,
		Currency:        order.Currency,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		Subtotal:        order.Subtotal,
		DiscountAmount:  order.DiscountAmount,
		CouponCode:      order.CouponCode,
		TaxAmount:       order.TaxAmount,
		ShippingCost:    order.ShippingCost,
		TotalAmount:     order.TotalAmount,
		PaymentMethod:   order.PaymentMethod,
		PaymentRef:      order.PaymentRef,
		Status:          string(order.Status),
		ShippingAddress: addressToDocument(order.ShippingAddress),
		CheckoutKey:     order.CheckoutKey,
		InvoiceURL:      order.InvoiceURL,
		PlacedAt:        order.Timestamps.PlacedAt.UTC(),
		ProcessingAt:    order.Timestamps.ProcessingAt,
		ShippedAt:       order.Timestamps.ShippedAt,
		DeliveredAt:     order.Timestamps.DeliveredAt,
		CancelledAt:     order.Timestamps.CancelledAt,
		ReturnedAt:      order.Timestamps.ReturnedAt,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			DesignerID:    item.DesignerID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Color:         item.Color,
			Customization: item.Customization,
			ReturnState:   string(item.ReturnState),
			ReturnReason:  item.ReturnReason,
		})
	}
	return doc
}

func addressFromDocument(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

func addressToDocument(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func paymentFromDocument(id string, doc paymentDocument) domain.Payment {
	return domain.Payment{
		TransactionID:  id,
		UserID:         doc.UserID,
		CartID:         doc.CartID,
		CartVersion:    doc.CartVersion,
		Amount:         doc.Amount,
		Currency:       doc.Currency,
		Method:         doc.Method,
		Provider:       doc.Provider,
		ProviderRef:    doc.ProviderRef,
		Status:         domain.PaymentStatus(doc.Status),
		InstrumentType: doc.InstrumentType,
		FailureReason:  doc.FailureReason,
		OrderID:        doc.OrderID,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
		SettledAt:      doc.SettledAt,
	}
}

func paymentToDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		UserID:         payment.UserID,
		CartID:         payment.CartID,
		CartVersion:    payment.CartVersion,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Method:         payment.Method,
		Provider:       payment.Provider,
		ProviderRef:    payment.ProviderRef,
		Status:         string(payment.Status),
		InstrumentType: payment.InstrumentType,
		FailureReason:  payment.FailureReason,
		OrderID:        payment.OrderID,
		CreatedAt:      payment.CreatedAt.UTC(),
		UpdatedAt:      payment.UpdatedAt.UTC(),
		SettledAt:      payment.SettledAt,
	}
}

func isNotFoundErr(err error) bool {
	return status.Code(err) == codes.NotFound
}
