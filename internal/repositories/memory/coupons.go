package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

type couponRepo struct{ s *Store }

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r couponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.coupons[normalizeCode(code)]
	if !ok {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon", code)
	}
	coupon.RedeemedBy = slices.Clone(coupon.RedeemedBy)
	return coupon, nil
}

func (r couponRepo) Redeem(ctx context.Context, code string, userID string, at time.Time) (domain.Coupon, error) {
	code = normalizeCode(code)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.coupons[code]
	if !ok {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.redeem", "coupon", code)
	}
	if coupon.RedeemedByUser(userID) {
		return domain.Coupon{}, repositories.NewConflictError("coupons.redeem", "coupon "+code+" already redeemed by "+userID)
	}
	prev := coupon
	coupon.RedeemedBy = append(slices.Clone(coupon.RedeemedBy), userID)
	coupon.UpdatedAt = at.UTC()
	r.s.coupons[code] = coupon
	r.s.onRollback(ctx, func() { r.s.coupons[code] = prev })

	coupon.RedeemedBy = slices.Clone(coupon.RedeemedBy)
	return coupon, nil
}

func (r couponRepo) Withdraw(ctx context.Context, code string, userID string) error {
	code = normalizeCode(code)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.coupons[code]
	if !ok {
		return nil
	}
	prev := coupon
	coupon.RedeemedBy = slices.DeleteFunc(slices.Clone(coupon.RedeemedBy), func(id string) bool { return id == userID })
	coupon.UpdatedAt = r.s.now()
	r.s.coupons[code] = coupon
	r.s.onRollback(ctx, func() { r.s.coupons[code] = prev })
	return nil
}

func (r couponRepo) Upsert(ctx context.Context, coupon domain.Coupon) error {
	code := normalizeCode(coupon.Code)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.coupons[code]
	coupon.Code = code
	coupon.RedeemedBy = slices.Clone(coupon.RedeemedBy)
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = r.s.now()
	}
	r.s.coupons[code] = coupon
	r.s.onRollback(ctx, func() {
		if existed {
			r.s.coupons[code] = prev
		} else {
			delete(r.s.coupons, code)
		}
	})
	return nil
}
