package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loomline/api/internal/platform/lock"
	"github.com/loomline/api/internal/repositories"
)

var (
	errCouponRepositoryRequired = errors.New("coupon service: coupon repository is required")
	errCouponCartsRequired      = errors.New("coupon service: cart repository is required")
	errCouponClockRequired      = errors.New("coupon service: clock is required")
)

var (
	// ErrCouponInvalidInput indicates a missing cart id, code or user.
	ErrCouponInvalidInput = errors.New("coupon service: invalid input")
	// ErrCouponNotFound indicates the code does not exist.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponAlreadyUsed indicates the user already redeemed the coupon.
	ErrCouponAlreadyUsed = errors.New("coupon service: coupon already used")
	// ErrCouponInactive indicates the coupon has been switched off.
	ErrCouponInactive = errors.New("coupon service: coupon inactive")
	// ErrCouponExpired indicates the coupon is past its expiry.
	ErrCouponExpired = errors.New("coupon service: coupon expired")
	// ErrDiscountAlreadyApplied indicates the cart already carries a discount.
	ErrDiscountAlreadyApplied = errors.New("coupon service: discount already applied")
	// ErrCouponUnavailable indicates a backend failure.
	ErrCouponUnavailable = errors.New("coupon service: unavailable")
)

// CouponServiceDeps wires coupon redemption dependencies.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Carts   repositories.CartRepository
	Pricing PricingPolicy
	Locker  lock.Locker
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	carts   repositories.CartRepository
	pricing PricingPolicy
	locker  lock.Locker
	now     func() time.Time
	logger  eventLogger
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errCouponRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errCouponCartsRequired
	}
	if deps.Clock == nil {
		return nil, errCouponClockRequired
	}
	return &couponService{
		coupons: deps.Coupons,
		carts:   deps.Carts,
		pricing: deps.Pricing,
		locker:  lockerOrDefault(deps.Locker),
		now:     func() time.Time { return deps.Clock().UTC() },
		logger:  loggerOrNoop(deps.Logger),
	}, nil
}

// ApplyToCart records the redemption first and only then discounts the cart, so a failure between
// the two writes leaves an unused redemption rather than a free discount.
func (s *couponService) ApplyToCart(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	userID := strings.TrimSpace(cmd.UserID)
	if cartID == "" || code == "" || userID == "" {
		return Cart{}, ErrCouponInvalidInput
	}

	release, err := s.locker.Lock(ctx, cartLockKey(userID))
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrCartConflict, err)
	}
	defer release()

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCouponNotFound
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	now := s.now()
	if !coupon.Active {
		return Cart{}, ErrCouponInactive
	}
	if !coupon.ExpiresAt.IsZero() && !now.Before(coupon.ExpiresAt) {
		return Cart{}, ErrCouponExpired
	}

	cart, err := s.carts.FindByID(ctx, cartID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	if cart.UserID != userID {
		return Cart{}, ErrCartNotFound
	}
	if cart.DiscountApplied {
		return Cart{}, ErrDiscountAlreadyApplied
	}
	if coupon.RedeemedByUser(userID) {
		return Cart{}, ErrCouponAlreadyUsed
	}

	if _, err := s.coupons.Redeem(ctx, coupon.Code, userID, now); err != nil {
		if isRepoConflict(err) {
			return Cart{}, ErrCouponAlreadyUsed
		}
		if isRepoNotFound(err) {
			return Cart{}, ErrCouponNotFound
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}

	expected := cart.Version
	cart.Items = cloneCartItems(cart.Items)
	cart.DiscountApplied = true
	cart.CouponValue = coupon.Amount
	cart.CouponCode = coupon.Code
	cart = s.pricing.Recompute(cart)
	cart.UpdatedAt = now

	saved, err := s.carts.Save(ctx, cart, expected)
	if err != nil {
		if withdrawErr := s.coupons.Withdraw(context.WithoutCancel(ctx), coupon.Code, userID); withdrawErr != nil {
			s.logger(ctx, "coupon.withdraw_failed", map[string]any{
				"code":   coupon.Code,
				"userID": userID,
				"error":  withdrawErr.Error(),
			})
		}
		switch {
		case isRepoConflict(err):
			return Cart{}, ErrCartConflict
		case isRepoNotFound(err):
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}

	s.logger(ctx, "coupon.applied", map[string]any{
		"code":     coupon.Code,
		"cartID":   saved.ID,
		"userID":   userID,
		"discount": saved.DiscountAmount,
	})
	return saved, nil
}
