package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartInventoryRequired  = errors.New("cart service: inventory service is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const (
	defaultMaxLineQuantity      = 99
	maxCustomizationFields      = 10
	maxCustomizationValueLength = 200
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrProductNotFound indicates the referenced product does not exist.
var ErrProductNotFound = errors.New("cart service: product not found")

// ErrVariantNotFound indicates the product has no variant in the requested color.
var ErrVariantNotFound = errors.New("cart service: variant not found")

// ErrSizeNotFound indicates the variant does not offer the requested size.
var ErrSizeNotFound = errors.New("cart service: size not found")

// ErrLineNotFound indicates the cart has no line for the requested key.
var ErrLineNotFound = errors.New("cart service: line not found")

// CartServiceDeps wires the repository and ledger dependencies for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        repositories.ProductRepository
	Inventory       InventoryService
	Pricing         PricingPolicy
	Locker          lock.Locker
	Sanitizer       TextSanitizer
	Clock           func() time.Time
	DefaultCurrency string
	MaxLineQuantity int
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	inventory InventoryService
	pricing   PricingPolicy
	locker    lock.Locker
	sanitizer TextSanitizer
	now       func() time.Time
	currency  string
	maxQty    int
	logger    eventLogger
	newID     func() string
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Inventory == nil {
		return nil, errCartInventoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}
	maxQty := deps.MaxLineQuantity
	if maxQty <= 0 {
		maxQty = defaultMaxLineQuantity
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		inventory: deps.Inventory,
		pricing:   deps.Pricing,
		locker:    lockerOrDefault(deps.Locker),
		sanitizer: sanitizer,
		now:       func() time.Time { return deps.Clock().UTC() },
		currency:  currency,
		maxQty:    maxQty,
		logger:    loggerOrNoop(deps.Logger),
		newID:     idGen,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartView{}, ErrCartInvalidInput
	}

	cart, err := s.carts.FindByUser(ctx, uid)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	products := make(map[string]*domain.Product)
	lines := make([]CartLineView, 0, len(cart.Items))
	for _, item := range cart.Items {
		line := CartLineView{
			Item:         item,
			ProductName:  item.ProductName,
			CurrentPrice: item.UnitPrice,
			Customizable: item.Customizable,
		}
		product, ok := products[item.ProductID]
		if !ok {
			found, err := s.products.FindByID(ctx, item.ProductID)
			switch {
			case err == nil:
				product = &found
			case isRepoNotFound(err):
				product = nil
			default:
				return CartView{}, s.translateRepoError(err)
			}
			products[item.ProductID] = product
		}
		if product != nil {
			line.ProductName = product.Name
			line.Customizable = product.Customizable
			if price, err := priceFor(*product, item.Color, item.Size); err == nil {
				line.CurrentPrice = price
				line.Available = true
			}
		}
		lines = append(lines, line)
	}

	return CartView{Cart: cart, Lines: lines}, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	key := VariantKey{ProductID: cmd.ProductID, Color: cmd.Color, Size: cmd.Size}.Normalize()
	if userID == "" || !key.Valid() {
		return Cart{}, fmt.Errorf("%w: user, product, size and color are required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > s.maxQty {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, s.maxQty)
	}

	release, err := s.lock(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	defer release()

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, s.translateRepoError(err)
		}
		cart = s.newCart(userID)
	}

	product, err := s.products.FindByID(ctx, key.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrProductNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	price, err := priceFor(product, key.Color, key.Size)
	if err != nil {
		return Cart{}, err
	}
	customization, err := s.sanitizeCustomization(product, cmd.Customization)
	if err != nil {
		return Cart{}, err
	}

	idx := findLine(cart.Items, key)
	if idx >= 0 && cart.Items[idx].Quantity+cmd.Quantity > s.maxQty {
		return Cart{}, fmt.Errorf("%w: line quantity cannot exceed %d", ErrCartInvalidInput, s.maxQty)
	}

	if _, err := s.inventory.Reserve(ctx, key, cmd.Quantity); err != nil {
		return Cart{}, err
	}

	now := s.now()
	items := cloneCartItems(cart.Items)
	if idx >= 0 {
		items[idx].Quantity += cmd.Quantity
		items[idx].UpdatedAt = now
		if customization != nil {
			items[idx].Customization = customization
		}
	} else {
		items = append(items, domain.CartItem{
			ProductID:     key.ProductID,
			ProductName:   product.Name,
			DesignerID:    product.DesignerID,
			UnitPrice:     price,
			Quantity:      cmd.Quantity,
			Size:          key.Size,
			Color:         key.Color,
			Customizable:  product.Customizable,
			Customization: customization,
			AddedAt:       now,
			UpdatedAt:     now,
		})
	}
	cart.Items = items

	saved, err := s.persist(ctx, cart)
	if err != nil {
		s.compensateRelease(ctx, key, cmd.Quantity)
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"userID":   userID,
		"cartID":   saved.ID,
		"key":      key.String(),
		"quantity": cmd.Quantity,
	})
	return saved, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	key := VariantKey{ProductID: cmd.ProductID, Color: cmd.Color, Size: cmd.Size}.Normalize()
	if userID == "" || !key.Valid() {
		return Cart{}, fmt.Errorf("%w: user, product, size and color are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 || cmd.Quantity > s.maxQty {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, s.maxQty)
	}
	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: userID, ProductID: key.ProductID, Size: key.Size, Color: key.Color})
	}

	release, err := s.lock(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	defer release()

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	idx := findLine(cart.Items, key)
	if idx < 0 {
		return Cart{}, ErrLineNotFound
	}

	delta := cmd.Quantity - cart.Items[idx].Quantity
	if delta == 0 {
		return cart, nil
	}
	if delta > 0 {
		if _, err := s.inventory.Reserve(ctx, key, delta); err != nil {
			return Cart{}, err
		}
	}

	items := cloneCartItems(cart.Items)
	items[idx].Quantity = cmd.Quantity
	items[idx].UpdatedAt = s.now()
	cart.Items = items

	saved, err := s.persist(ctx, cart)
	if err != nil {
		if delta > 0 {
			s.compensateRelease(ctx, key, delta)
		}
		return Cart{}, err
	}
	if delta < 0 {
		s.releaseAfterCommit(ctx, key, -delta)
	}

	s.logger(ctx, "cart.item_updated", map[string]any{
		"userID":   userID,
		"cartID":   saved.ID,
		"key":      key.String(),
		"quantity": cmd.Quantity,
		"delta":    delta,
	})
	return saved, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	key := VariantKey{ProductID: cmd.ProductID, Color: cmd.Color, Size: cmd.Size}.Normalize()
	if userID == "" || !key.Valid() {
		return Cart{}, fmt.Errorf("%w: user, product, size and color are required", ErrCartInvalidInput)
	}

	release, err := s.lock(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	defer release()

	cart, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	idx := findLine(cart.Items, key)
	if idx < 0 {
		return Cart{}, ErrLineNotFound
	}
	quantity := cart.Items[idx].Quantity

	items := make([]domain.CartItem, 0, len(cart.Items)-1)
	items = append(items, cart.Items[:idx]...)
	items = append(items, cart.Items[idx+1:]...)
	cart.Items = items

	saved, err := s.persist(ctx, cart)
	if err != nil {
		return Cart{}, err
	}
	if quantity > 0 {
		s.releaseAfterCommit(ctx, key, quantity)
	}

	s.logger(ctx, "cart.item_removed", map[string]any{
		"userID":   userID,
		"cartID":   saved.ID,
		"key":      key.String(),
		"quantity": quantity,
	})
	return saved, nil
}

func (s *cartService) lock(ctx context.Context, userID string) (func(), error) {
	release, err := s.locker.Lock(ctx, cartLockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCartConflict, err)
	}
	return release, nil
}

func (s *cartService) persist(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	expected := cart.Version
	cart = s.pricing.Recompute(cart)
	cart.UpdatedAt = s.now()
	saved, err := s.carts.Save(ctx, cart, expected)
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

// compensateRelease undoes a reservation whose cart write failed.
func (s *cartService) compensateRelease(ctx context.Context, key VariantKey, quantity int) {
	if _, err := s.inventory.Release(context.WithoutCancel(ctx), key, quantity); err != nil {
		s.logger(ctx, "cart.compensation_failed", map[string]any{
			"key":      key.String(),
			"quantity": quantity,
			"error":    err.Error(),
		})
	}
}

// releaseAfterCommit returns stock once the cart no longer holds it. A failure leaves the ledger
// under-counted, never oversold.
func (s *cartService) releaseAfterCommit(ctx context.Context, key VariantKey, quantity int) {
	if _, err := s.inventory.Release(context.WithoutCancel(ctx), key, quantity); err != nil {
		s.logger(ctx, "cart.release_failed", map[string]any{
			"key":      key.String(),
			"quantity": quantity,
			"error":    err.Error(),
		})
	}
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        s.newID(),
		UserID:    userID,
		Currency:  s.currency,
		Items:     []domain.CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) sanitizeCustomization(product domain.Product, input map[string]string) (map[string]string, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if !product.Customizable {
		return nil, fmt.Errorf("%w: product %s is not customizable", ErrCartInvalidInput, product.ID)
	}
	if len(input) > maxCustomizationFields {
		return nil, fmt.Errorf("%w: at most %d customization fields are allowed", ErrCartInvalidInput, maxCustomizationFields)
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		key := strings.TrimSpace(s.sanitizer.Sanitize(k))
		value := strings.TrimSpace(s.sanitizer.Sanitize(v))
		if key == "" || value == "" {
			continue
		}
		if len(value) > maxCustomizationValueLength {
			return nil, fmt.Errorf("%w: customization %q exceeds %d characters", ErrCartInvalidInput, key, maxCustomizationValueLength)
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func priceFor(product domain.Product, color, size string) (int64, error) {
	for _, variant := range product.Variants {
		if strings.TrimSpace(variant.Color) != color {
			continue
		}
		for _, option := range variant.Sizes {
			if strings.TrimSpace(option.Size) == size {
				return option.Price, nil
			}
		}
		return 0, ErrSizeNotFound
	}
	return 0, ErrVariantNotFound
}
