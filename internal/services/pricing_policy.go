package services

import domain "github.com/loomline/api/internal/domain"

// PricingPolicy derives tax and shipping for a cart.
type PricingPolicy struct {
	// TaxRateBps is applied to the subtotal before any discount; 825 means 8.25%.
	TaxRateBps int
	// ShippingFlat is charged on non-empty carts below FreeShippingThreshold.
	ShippingFlat int64
	// FreeShippingThreshold waives shipping when the subtotal reaches it. Zero disables the waiver.
	FreeShippingThreshold int64
}

// Shipping returns the shipping charge for a subtotal.
func (p PricingPolicy) Shipping(subtotal int64, empty bool) int64 {
	if empty || p.ShippingFlat <= 0 {
		return 0
	}
	if p.FreeShippingThreshold > 0 && subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFlat
}

// Tax returns the tax charged on subtotal. A coupon does not change it.
func (p PricingPolicy) Tax(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	return domain.ApplyBasisPoints(subtotal, p.TaxRateBps)
}

// Recompute rewrites every derived total of cart from its lines and discount.
func (p PricingPolicy) Recompute(cart domain.Cart) domain.Cart {
	cart.Subtotal = domain.Subtotal(cart.Items)
	if cart.DiscountApplied {
		// Carts written before CouponValue existed keep their discount as the face value.
		if cart.CouponValue == 0 {
			cart.CouponValue = cart.DiscountAmount
		}
		cart.DiscountAmount = min(cart.CouponValue, cart.Subtotal)
	} else {
		cart.DiscountAmount = 0
		cart.CouponValue = 0
		cart.CouponCode = ""
	}
	cart.ShippingCost = p.Shipping(cart.Subtotal, cart.IsEmpty())
	cart.TaxAmount = p.Tax(cart.Subtotal)
	cart.TotalAmount = domain.GrandTotal(cart.Subtotal, cart.DiscountAmount, cart.TaxAmount, cart.ShippingCost)
	return cart
}
