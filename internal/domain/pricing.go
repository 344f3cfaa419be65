package domain

import "math"

// LineTotal returns price × quantity for a single line.
func LineTotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// Subtotal sums price × quantity across the cart lines.
func Subtotal(items []CartItem) int64 {
	var total int64
	for _, item := range items {
		total += LineTotal(item.UnitPrice, item.Quantity)
	}
	return total
}

// GrandTotal applies the cart total formula: subtotal − discount + tax + shipping.
func GrandTotal(subtotal, discount, tax, shipping int64) int64 {
	return subtotal - discount + tax + shipping
}

// RoundHalfAwayFromZero rounds to the nearest integer, ties away from zero.
func RoundHalfAwayFromZero(v float64) int64 {
	return int64(math.Round(v))
}

// MinorUnits converts a decimal amount (e.g. 12.345) to cents using half-away-from-zero rounding.
func MinorUnits(amount float64) int64 {
	return RoundHalfAwayFromZero(amount * 100)
}

// ApplyBasisPoints returns amount × bps / 10000 rounded half away from zero.
func ApplyBasisPoints(amount int64, bps int) int64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	product := amount * int64(bps)
	quotient := product / 10000
	remainder := product % 10000
	if remainder < 0 {
		remainder = -remainder
	}
	if remainder*2 >= 10000 {
		if product < 0 {
			quotient--
		} else {
			quotient++
		}
	}
	return quotient
}
