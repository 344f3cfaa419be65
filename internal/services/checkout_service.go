package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/repositories"
)

const (
	invoiceContentType = "text/html; charset=utf-8"
	orderPlacedEvent   = "order.placed"
	orderNumberPrefix  = "LL"
)

var (
	errCheckoutCartsRequired    = errors.New("checkout service: cart repository is required")
	errCheckoutOrdersRequired   = errors.New("checkout service: order repository is required")
	errCheckoutCountersRequired = errors.New("checkout service: counter repository is required")
	errCheckoutClockRequired    = errors.New("checkout service: clock is required")
)

var (
	// ErrCheckoutInvalidInput indicates the request is missing the user.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutCartEmpty indicates there is nothing to order.
	ErrCheckoutCartEmpty = errors.New("checkout service: cart is empty")
	// ErrCheckoutConflict indicates the cart changed while the order was being placed.
	ErrCheckoutConflict = errors.New("checkout service: conflict")
	// ErrCheckoutCartChanged indicates the cart no longer matches the one a payment covered.
	ErrCheckoutCartChanged = errors.New("checkout service: cart changed")
	// ErrCheckoutUnavailable indicates the durable part of checkout failed.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")
)

// PaymentCheckoutKey is the checkout key used when a settled payment places the order.
func PaymentCheckoutKey(transactionID string) string {
	return "payment:" + strings.TrimSpace(transactionID)
}

// ClientCheckoutKey is the checkout key derived from a client supplied Idempotency-Key header.
func ClientCheckoutKey(key string) string {
	return "client:" + strings.TrimSpace(key)
}

func cartCheckoutKey(cart domain.Cart) string {
	return fmt.Sprintf("cart:%s:%d", cart.ID, cart.Version)
}

// CheckoutServiceDeps wires the durable stores and the side-effect collaborators for checkout.
type CheckoutServiceDeps struct {
	UnitOfWork    repositories.UnitOfWork
	Carts         repositories.CartRepository
	Orders        repositories.OrderRepository
	Counters      repositories.CounterRepository
	Profiles      repositories.ProfileRepository
	Designers     repositories.DesignerRepository
	Notifications repositories.NotificationRepository
	Pricing       PricingPolicy
	Locker        lock.Locker

	Documents   DocumentRenderer
	Storage     ObjectStorage
	Mailer      Mailer
	Pusher      Pusher
	Events      OrderEventPublisher
	InvoicePath func(order Order) string

	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type checkoutService struct {
	uow           repositories.UnitOfWork
	carts         repositories.CartRepository
	orders        repositories.OrderRepository
	counters      repositories.CounterRepository
	profiles      repositories.ProfileRepository
	designers     repositories.DesignerRepository
	notifications repositories.NotificationRepository
	pricing       PricingPolicy
	locker        lock.Locker

	documents   DocumentRenderer
	storage     ObjectStorage
	mailer      Mailer
	pusher      Pusher
	events      OrderEventPublisher
	invoicePath func(order Order) string

	now    func() time.Time
	logger eventLogger
	newID  func() string
}

// NewCheckoutService constructs the checkout transition. Side-effect collaborators are optional.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errCheckoutCartsRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	if deps.Counters == nil {
		return nil, errCheckoutCountersRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	invoicePath := deps.InvoicePath
	if invoicePath == nil {
		invoicePath = func(order Order) string { return fmt.Sprintf("invoices/%s.html", order.ID) }
	}
	return &checkoutService{
		uow:           unitOfWorkOrNoop(deps.UnitOfWork),
		carts:         deps.Carts,
		orders:        deps.Orders,
		counters:      deps.Counters,
		profiles:      deps.Profiles,
		designers:     deps.Designers,
		notifications: deps.Notifications,
		pricing:       deps.Pricing,
		locker:        lockerOrDefault(deps.Locker),
		documents:     deps.Documents,
		storage:       deps.Storage,
		mailer:        deps.Mailer,
		pusher:        deps.Pusher,
		events:        deps.Events,
		invoicePath:   invoicePath,
		now:           func() time.Time { return deps.Clock().UTC() },
		logger:        loggerOrNoop(deps.Logger),
		newID:         idGen,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	key := strings.TrimSpace(cmd.CheckoutKey)

	release, err := s.locker.Lock(ctx, cartLockKey(userID))
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	}
	defer release()

	if key != "" {
		if existing, found, err := s.lookupByKey(ctx, key); err != nil {
			return CheckoutResult{}, err
		} else if found {
			return s.replay(ctx, existing, userID)
		}
	}

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutResult{}, ErrCartNotFound
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if cartID := strings.TrimSpace(cmd.CartID); cartID != "" && cartID != cart.ID {
		return CheckoutResult{}, ErrCartNotFound
	}
	if cmd.ExpectedCartVersion > 0 && (cart.Version != cmd.ExpectedCartVersion || cart.TotalAmount != cmd.ExpectedTotal) {
		return CheckoutResult{}, fmt.Errorf("%w: cart is at version %d with total %d, payment covered version %d with total %d",
			ErrCheckoutCartChanged, cart.Version, cart.TotalAmount, cmd.ExpectedCartVersion, cmd.ExpectedTotal)
	}
	if cart.IsEmpty() {
		return CheckoutResult{}, ErrCheckoutCartEmpty
	}
	if key == "" {
		key = cartCheckoutKey(cart)
	}

	now := s.now()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return CheckoutResult{}, err
	}
	order := s.buildOrder(ctx, cart, cmd, key, number, now)

	cleared := cart
	cleared.Items = []domain.CartItem{}
	cleared.DiscountApplied = false
	cleared.DiscountAmount = 0
	cleared.CouponValue = 0
	cleared.CouponCode = ""
	cleared = s.pricing.Recompute(cleared)
	cleared.UpdatedAt = now

	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.carts.Save(txCtx, cleared, cart.Version); err != nil {
			return err
		}
		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		if isRepoConflict(err) {
			if existing, found, lookupErr := s.lookupByKey(ctx, key); lookupErr == nil && found {
				return s.replay(ctx, existing, userID)
			}
			return CheckoutResult{}, ErrCheckoutConflict
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	s.logger(ctx, "checkout.order_placed", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"userID":      userID,
		"cartID":      cart.ID,
		"checkoutKey": key,
		"total":       order.TotalAmount,
	})

	order = s.fanOut(context.WithoutCancel(ctx), order)
	return CheckoutResult{Order: order}, nil
}

func (s *checkoutService) lookupByKey(ctx context.Context, key string) (domain.Order, bool, error) {
	order, err := s.orders.FindByCheckoutKey(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return order, true, nil
}

func (s *checkoutService) replay(ctx context.Context, order domain.Order, userID string) (CheckoutResult, error) {
	if order.UserID != userID {
		return CheckoutResult{}, ErrCheckoutConflict
	}
	s.logger(ctx, "checkout.replayed", map[string]any{
		"orderID":     order.ID,
		"checkoutKey": order.CheckoutKey,
	})
	return CheckoutResult{Order: order, Replayed: true}, nil
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, fmt.Sprintf("orders:%04d", now.Year()), 1)
	if err != nil {
		return "", fmt.Errorf("%w: order number: %v", ErrCheckoutUnavailable, err)
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, now.Year(), seq), nil
}

func (s *checkoutService) buildOrder(ctx context.Context, cart domain.Cart, cmd PlaceOrderCommand, key, number string, now time.Time) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.OrderLineItem{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			DesignerID:    item.DesignerID,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Size:          item.Size,
			Color:         item.Color,
			Customization: cloneStringMap(item.Customization),
			ReturnState:   domain.ReturnNotRequested,
		})
	}

	address := cmd.ShippingAddress
	if address == nil && s.profiles != nil {
		if profile, err := s.profiles.FindByID(ctx, cart.UserID); err == nil && profile.ShippingAddress != nil {
			snapshot := *profile.ShippingAddress
			address = &snapshot
		}
	}

	return domain.Order{
		ID:              s.newID(),
		OrderNumber:     number,
		UserID:          cart.UserID,
		CartID:          cart.ID,
		Currency:        cart.Currency,
		Items:           items,
		Subtotal:        cart.Subtotal,
		DiscountAmount:  cart.DiscountAmount,
		CouponCode:      cart.CouponCode,
		TaxAmount:       cart.TaxAmount,
		ShippingCost:    cart.ShippingCost,
		TotalAmount:     cart.TotalAmount,
		PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
		PaymentRef:      strings.TrimSpace(cmd.PaymentRef),
		Status:          domain.OrderStatusPlaced,
		ShippingAddress: address,
		CheckoutKey:     key,
		Timestamps:      domain.OrderTimestamps{PlacedAt: now},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// fanOut runs the best-effort side effects of a committed order. Failures are logged only.
func (s *checkoutService) fanOut(ctx context.Context, order domain.Order) domain.Order {
	var customer domain.CustomerProfile
	hasCustomer := false
	if s.profiles != nil {
		profile, err := s.profiles.FindByID(ctx, order.UserID)
		if err != nil {
			s.sideEffectFailed(ctx, order, "profile", err)
		} else {
			customer = profile
			hasCustomer = true
		}
	}

	order = s.storeInvoice(ctx, order, customer)

	if hasCustomer && s.mailer != nil && s.documents != nil && strings.TrimSpace(customer.Email) != "" {
		email, err := s.documents.RenderPurchaserEmail(ctx, order, customer)
		if err == nil {
			err = s.mailer.Send(ctx, email)
		}
		if err != nil {
			s.sideEffectFailed(ctx, order, "purchaser_email", err)
		}
	}

	for _, designerID := range order.DesignerIDs() {
		s.notifyDesigner(ctx, order, designerID)
	}

	if hasCustomer && s.pusher != nil && strings.TrimSpace(customer.PushToken) != "" {
		title := "Order placed"
		body := fmt.Sprintf("Your order %s has been placed.", order.OrderNumber)
		if err := s.pusher.Send(ctx, customer.PushToken, title, body); err != nil {
			s.sideEffectFailed(ctx, order, "push", err)
		}
	}

	if s.events != nil {
		event := OrderEvent{
			Type:        orderPlacedEvent,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Status:      order.Status,
			TotalAmount: order.TotalAmount,
			Currency:    order.Currency,
			OccurredAt:  order.CreatedAt,
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.sideEffectFailed(ctx, order, "event", err)
		}
	}
	return order
}

// storeInvoice uploads the rendered invoice and then records its URL. The artifact is removed
// again when the order cannot be updated so no unreferenced invoice is left behind.
func (s *checkoutService) storeInvoice(ctx context.Context, order domain.Order, customer domain.CustomerProfile) domain.Order {
	if s.documents == nil || s.storage == nil {
		return order
	}
	data, err := s.documents.RenderInvoice(ctx, order, customer)
	if err != nil {
		s.sideEffectFailed(ctx, order, "invoice_render", err)
		return order
	}
	path := s.invoicePath(order)
	url, err := s.storage.Put(ctx, path, data, invoiceContentType)
	if err != nil {
		s.sideEffectFailed(ctx, order, "invoice_upload", err)
		return order
	}
	updated := order
	updated.InvoiceURL = url
	updated.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, updated); err != nil {
		s.sideEffectFailed(ctx, order, "invoice_persist", err)
		if delErr := s.storage.Delete(ctx, path); delErr != nil {
			s.sideEffectFailed(ctx, order, "invoice_cleanup", delErr)
		}
		return order
	}
	return updated
}

func (s *checkoutService) notifyDesigner(ctx context.Context, order domain.Order, designerID string) {
	if s.notifications != nil {
		note := domain.Notification{
			RecipientID: designerID,
			Kind:        orderPlacedEvent,
			OrderID:     order.ID,
			Message:     fmt.Sprintf("New order %s contains your products.", order.OrderNumber),
			CreatedAt:   s.now(),
		}
		if err := s.notifications.Insert(ctx, note); err != nil {
			s.sideEffectFailed(ctx, order, "designer_notification", err)
		}
	}

	if s.designers == nil || s.mailer == nil || s.documents == nil {
		return
	}
	designer, err := s.designers.FindByID(ctx, designerID)
	if err != nil {
		s.sideEffectFailed(ctx, order, "designer_lookup", err)
		return
	}
	if strings.TrimSpace(designer.Email) == "" {
		return
	}
	email, err := s.documents.RenderDesignerEmail(ctx, order, designer)
	if err == nil {
		err = s.mailer.Send(ctx, email)
	}
	if err != nil {
		s.sideEffectFailed(ctx, order, "designer_email", err)
	}
}

func (s *checkoutService) sideEffectFailed(ctx context.Context, order domain.Order, step string, err error) {
	s.logger(ctx, "checkout.side_effect_failed", map[string]any{
		"orderID": order.ID,
		"step":    step,
		"error":   errorString(err),
	})
}
