package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// CouponRepository stores coupons keyed by their upper-cased code.
type CouponRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{provider: provider}, nil
}

func (r *CouponRepository) ref(ctx context.Context, code string) (*firestore.DocumentRef, string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, "", pfirestore.NewError("", codes.InvalidArgument, "coupon code is required")
	}
	coll, err := r.provider.Collection(ctx, couponsCollection)
	if err != nil {
		return nil, "", err
	}
	return coll.Doc(code), code, nil
}

// FindByCode loads a coupon.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	ref, id, err := r.ref(ctx, code)
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, ref)
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find", err)
	}
	var doc couponDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.decode", err)
	}
	return couponFromDocument(id, doc), nil
}

// Redeem records userID in the redemption set inside a transaction so that two concurrent
// redemptions by the same user cannot both succeed.
func (r *CouponRepository) Redeem(ctx context.Context, code string, userID string, at time.Time) (domain.Coupon, error) {
	ref, id, err := r.ref(ctx, code)
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	var result domain.Coupon
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", id, err)
		}
		coupon := couponFromDocument(id, doc)
		if coupon.RedeemedByUser(userID) {
			return pfirestore.NewError("coupons.redeem", codes.AlreadyExists, "coupon %s already redeemed by %s", id, userID)
		}
		coupon.RedeemedBy = append(coupon.RedeemedBy, userID)
		coupon.UpdatedAt = at.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "redeemedBy", Value: firestore.ArrayUnion(userID)},
			{Path: "updatedAt", Value: coupon.UpdatedAt},
		}); err != nil {
			return err
		}
		result = coupon
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	return result, nil
}

// Withdraw removes userID from the redemption set.
func (r *CouponRepository) Withdraw(ctx context.Context, code string, userID string) error {
	ref, _, err := r.ref(ctx, code)
	if err != nil {
		return pfirestore.WrapError("coupons.withdraw", err)
	}
	updates := []firestore.Update{
		{Path: "redeemedBy", Value: firestore.ArrayRemove(userID)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		return pfirestore.WrapError("coupons.withdraw", tx.Update(ref, updates))
	}
	_, err = ref.Update(ctx, updates)
	if isNotFoundErr(err) {
		return nil
	}
	return pfirestore.WrapError("coupons.withdraw", err)
}

// Upsert replaces the coupon document.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) error {
	ref, _, err := r.ref(ctx, coupon.Code)
	if err != nil {
		return pfirestore.WrapError("coupons.upsert", err)
	}
	now := time.Now().UTC()
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = now
	}
	doc := couponDocument{
		Amount:     coupon.Amount,
		ExpiresAt:  coupon.ExpiresAt.UTC(),
		Active:     coupon.Active,
		RedeemedBy: append([]string{}, coupon.RedeemedBy...),
		CreatedAt:  coupon.CreatedAt.UTC(),
		UpdatedAt:  now,
	}
	return pfirestore.WrapError("coupons.upsert", pfirestore.SetDoc(ctx, ref, doc))
}

func couponFromDocument(code string, doc couponDocument) domain.Coupon {
	return domain.Coupon{
		Code:       code,
		Amount:     doc.Amount,
		ExpiresAt:  doc.ExpiresAt.UTC(),
		Active:     doc.Active,
		RedeemedBy: append([]string(nil), doc.RedeemedBy...),
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
}
