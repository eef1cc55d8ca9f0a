package promo

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount is the outcome of applying a promotion to an order subtotal.
type Discount struct {
	Amount       decimal.Decimal
	FreeShipping bool
}

// Apply calculates the discount the given promotion grants on the
// subtotal. The subtotal is clamped at zero before any computation so a
// malformed negative figure can never produce a negative discount.
// Percent discounts are floored to whole currency units; fixed discounts
// never exceed the subtotal. Apply never mutates the promotion:
// promotions are multi-use and applying one has no side effects.
func Apply(p *Promotion, subtotal decimal.Decimal) (Discount, error) {
	base := floorAtZero(subtotal)

	switch p.Type {
	case TypePercent:
		amount := base.Mul(p.Value).Div(hundred).Floor()
		return Discount{Amount: floorAtZero(amount)}, nil
	case TypeFixed:
		return Discount{Amount: floorAtZero(decimal.Min(p.Value, base))}, nil
	case TypeFreeShipping:
		return Discount{Amount: zero, FreeShipping: true}, nil
	default:
		return Discount{}, ErrUnsupportedType
	}
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
