package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/loomline/api/internal/services"
)

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Currency        string            `json:"currency"`
	ItemsCount      int               `json:"items_count"`
	Items           []cartItemPayload `json:"items"`
	Subtotal        int64             `json:"subtotal"`
	DiscountApplied bool              `json:"discount_applied"`
	DiscountAmount  int64             `json:"discount_amount"`
	CouponCode      string            `json:"coupon_code,omitempty"`
	TaxAmount       int64             `json:"tax_amount"`
	ShippingCost    int64             `json:"shipping_cost"`
	TotalAmount     int64             `json:"total_amount"`
	Version         int64             `json:"version"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ProductID     string            `json:"product_id"`
	ProductName   string            `json:"product_name,omitempty"`
	Size          string            `json:"size"`
	Color         string            `json:"color"`
	Quantity      int               `json:"quantity"`
	UnitPrice     int64             `json:"unit_price"`
	LineTotal     int64             `json:"line_total"`
	Customization map[string]string `json:"customization,omitempty"`
	// Set only on reads, where live catalog data is attached.
	CurrentPrice *int64 `json:"current_price,omitempty"`
	Available    *bool  `json:"available,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:              strings.TrimSpace(cart.ID),
		UserID:          strings.TrimSpace(cart.UserID),
		Currency:        strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount:      len(cart.Items),
		Items:           make([]cartItemPayload, 0, len(cart.Items)),
		Subtotal:        cart.Subtotal,
		DiscountApplied: cart.DiscountApplied,
		DiscountAmount:  cart.DiscountAmount,
		CouponCode:      cart.CouponCode,
		TaxAmount:       cart.TaxAmount,
		ShippingCost:    cart.ShippingCost,
		TotalAmount:     cart.TotalAmount,
		Version:         cart.Version,
		UpdatedAt:       formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			Size:          item.Size,
			Color:         item.Color,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTotal:     item.UnitPrice * int64(item.Quantity),
			Customization: item.Customization,
		})
	}
	return payload
}

func buildCartViewPayload(view services.CartView) cartPayload {
	payload := buildCartPayload(view.Cart)
	for i, line := range view.Lines {
		if i >= len(payload.Items) {
			break
		}
		price := line.CurrentPrice
		available := line.Available
		if name := strings.TrimSpace(line.ProductName); name != "" {
			payload.Items[i].ProductName = name
		}
		payload.Items[i].CurrentPrice = &price
		payload.Items[i].Available = &available
	}
	return payload
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	UserID          string             `json:"user_id"`
	CartID          string             `json:"cart_id,omitempty"`
	Status          string             `json:"status"`
	Currency        string             `json:"currency"`
	Items           []orderItemPayload `json:"items"`
	Subtotal        int64              `json:"subtotal"`
	DiscountAmount  int64              `json:"discount_amount"`
	CouponCode      string             `json:"coupon_code,omitempty"`
	TaxAmount       int64              `json:"tax_amount"`
	ShippingCost    int64              `json:"shipping_cost"`
	TotalAmount     int64              `json:"total_amount"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	PaymentRef      string             `json:"payment_ref,omitempty"`
	ShippingAddress *addressPayload    `json:"shipping_address,omitempty"`
	InvoiceURL      string             `json:"invoice_url,omitempty"`
	Timestamps      orderTimesPayload  `json:"timestamps"`
	CreatedAt       string             `json:"created_at,omitempty"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	Line          int               `json:"line"`
	ProductID     string            `json:"product_id"`
	ProductName   string            `json:"product_name,omitempty"`
	Size          string            `json:"size"`
	Color         string            `json:"color"`
	Quantity      int               `json:"quantity"`
	UnitPrice     int64             `json:"unit_price"`
	Customization map[string]string `json:"customization,omitempty"`
	ReturnState   string            `json:"return_state"`
	ReturnReason  string            `json:"return_reason,omitempty"`
}

type orderTimesPayload struct {
	PlacedAt     string `json:"placed_at,omitempty"`
	ProcessingAt string `json:"processing_at,omitempty"`
	ShippedAt    string `json:"shipped_at,omitempty"`
	DeliveredAt  string `json:"delivered_at,omitempty"`
	CancelledAt  string `json:"cancelled_at,omitempty"`
	ReturnedAt   string `json:"returned_at,omitempty"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		CartID:         order.CartID,
		Status:         string(order.Status),
		Currency:       strings.ToUpper(order.Currency),
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		CouponCode:     order.CouponCode,
		TaxAmount:      order.TaxAmount,
		ShippingCost:   order.ShippingCost,
		TotalAmount:    order.TotalAmount,
		PaymentMethod:  order.PaymentMethod,
		PaymentRef:     order.PaymentRef,
		InvoiceURL:     order.InvoiceURL,
		Timestamps: orderTimesPayload{
			PlacedAt:     formatTime(order.Timestamps.PlacedAt),
			ProcessingAt: formatTimePtr(order.Timestamps.ProcessingAt),
			ShippedAt:    formatTimePtr(order.Timestamps.ShippedAt),
			DeliveredAt:  formatTimePtr(order.Timestamps.DeliveredAt),
			CancelledAt:  formatTimePtr(order.Timestamps.CancelledAt),
			ReturnedAt:   formatTimePtr(order.Timestamps.ReturnedAt),
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	for i, item := range order.Items {
		state := string(item.ReturnState)
		if state == "" {
			state = "not_requested"
		}
		payload.Items = append(payload.Items, orderItemPayload{
			Line:          i,
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			Size:          item.Size,
			Color:         item.Color,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			Customization: item.Customization,
			ReturnState:   state,
			ReturnReason:  item.ReturnReason,
		})
	}
	if addr := order.ShippingAddress; addr != nil {
		payload.ShippingAddress = &addressPayload{
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
	return payload
}

func (a *addressPayload) toAddress() *services.Address {
	if a == nil {
		return nil
	}
	return &services.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      trimmedPointer(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      trimmedPointer(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      trimmedPointer(a.Phone),
	}
}

func (a *addressPayload) validate() string {
	if a == nil {
		return ""
	}
	switch {
	case strings.TrimSpace(a.Recipient) == "":
		return "shipping_address.recipient is required"
	case strings.TrimSpace(a.Line1) == "":
		return "shipping_address.line1 is required"
	case strings.TrimSpace(a.City) == "":
		return "shipping_address.city is required"
	case strings.TrimSpace(a.PostalCode) == "":
		return "shipping_address.postal_code is required"
	case strings.TrimSpace(a.Country) == "":
		return "shipping_address.country is required"
	}
	return ""
}

type paymentPayload struct {
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method,omitempty"`
	Provider       string `json:"provider,omitempty"`
	InstrumentType string `json:"instrument_type,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	SettledAt      string `json:"settled_at,omitempty"`
}

func buildPaymentPayload(p services.Payment) paymentPayload {
	return paymentPayload{
		TransactionID:  p.TransactionID,
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       strings.ToUpper(p.Currency),
		Method:         p.Method,
		Provider:       p.Provider,
		InstrumentType: p.InstrumentType,
		FailureReason:  p.FailureReason,
		OrderID:        p.OrderID,
		CreatedAt:      formatTime(p.CreatedAt),
		SettledAt:      formatTimePtr(p.SettledAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
