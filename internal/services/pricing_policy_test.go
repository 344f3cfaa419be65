package services

import (
	"testing"

	domain "github.com/loomline/api/internal/domain"
)

func TestPricingPolicyRecompute(t *testing.T) {
	lines := []domain.CartItem{
		{ProductID: "prod-tee", Color: "black", Size: "M", Quantity: 2, UnitPrice: 100},
		{ProductID: "prod-tee", Color: "black", Size: "L", Quantity: 1, UnitPrice: 50},
	}

	tests := []struct {
		name     string
		policy   PricingPolicy
		cart     domain.Cart
		tax      int64
		shipping int64
		total    int64
	}{
		{
			name:     "flat shipping and tax",
			policy:   testPricing,
			cart:     domain.Cart{Items: lines},
			tax:      10,
			shipping: 20,
			total:    280,
		},
		{
			name:     "free shipping at threshold",
			policy:   PricingPolicy{TaxRateBps: 400, ShippingFlat: 20, FreeShippingThreshold: 250},
			cart:     domain.Cart{Items: lines},
			tax:      10,
			shipping: 0,
			total:    260,
		},
		{
			name:     "discount leaves tax unchanged",
			policy:   testPricing,
			cart:     domain.Cart{Items: lines, DiscountApplied: true, DiscountAmount: 10, CouponCode: "SAVE10"},
			tax:      10,
			shipping: 20,
			total:    270,
		},
		{
			name:     "discount is capped at the subtotal",
			policy:   testPricing,
			cart:     domain.Cart{Items: lines, DiscountApplied: true, CouponValue: 400, CouponCode: "BIG"},
			tax:      10,
			shipping: 20,
			total:    30,
		},
		{
			name:   "empty cart charges nothing",
			policy: testPricing,
			cart:   domain.Cart{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.policy.Recompute(tc.cart)
			if got.TaxAmount != tc.tax || got.ShippingCost != tc.shipping || got.TotalAmount != tc.total {
				t.Fatalf("got tax=%d shipping=%d total=%d, want %d/%d/%d", got.TaxAmount, got.ShippingCost, got.TotalAmount, tc.tax, tc.shipping, tc.total)
			}
			assertTotalsConsistent(t, got)
		})
	}
}

func TestPricingPolicyRecomputeDropsStaleDiscount(t *testing.T) {
	cart := domain.Cart{
		Items:          []domain.CartItem{{ProductID: "prod-cap", Color: "blue", Size: "OS", Quantity: 1, UnitPrice: 75}},
		DiscountAmount: 10,
		CouponCode:     "SAVE10",
	}
	got := testPricing.Recompute(cart)
	if got.DiscountAmount != 0 || got.CouponCode != "" {
		t.Fatalf("expected discount cleared when not applied, got %d %q", got.DiscountAmount, got.CouponCode)
	}
	if got.TotalAmount != 75+3+20 {
		t.Fatalf("unexpected total %d", got.TotalAmount)
	}
}

func TestPricingPolicyCappedDiscountRecoversWhenLinesGrow(t *testing.T) {
	cart := domain.Cart{
		Items:           []domain.CartItem{{ProductID: "prod-cap", Color: "blue", Size: "OS", Quantity: 1, UnitPrice: 75}},
		DiscountApplied: true,
		CouponValue:     100,
		CouponCode:      "BIG",
	}
	capped := testPricing.Recompute(cart)
	if capped.DiscountAmount != 75 || capped.TotalAmount != 3+20 {
		t.Fatalf("expected discount capped at 75, got discount=%d total=%d", capped.DiscountAmount, capped.TotalAmount)
	}

	capped.Items[0].Quantity = 2
	grown := testPricing.Recompute(capped)
	if grown.DiscountAmount != 100 || grown.CouponValue != 100 {
		t.Fatalf("expected full face value once the subtotal covers it, got %+v", grown)
	}
	// tax is 4% of 150
	if grown.TotalAmount != 150-100+6+20 {
		t.Fatalf("unexpected total %d", grown.TotalAmount)
	}
	assertTotalsConsistent(t, grown)
}
