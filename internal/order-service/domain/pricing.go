package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the largest accepted difference between a submitted and a
// computed total.
var Epsilon = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Coupon is either a percentage, a flat amount, or both. The resulting
// discount never exceeds the order subtotal.
type Coupon struct {
	Code        string
	Percent     decimal.Decimal
	Flat        decimal.Decimal
	MinSubtotal decimal.Decimal
}

// PricingRules holds the shipping table and the coupon catalogue used to
// price an order at creation and to re-price it at payment initiation.
type PricingRules struct {
	Shipping map[string]decimal.Decimal
	Coupons  map[string]Coupon
}

// Quote is the priced breakdown of an order.
type Quote struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Price computes the quote for the given items, shipping method and coupon.
func (r PricingRules) Price(items []OrderItem, shippingMethod, couponCode string) (Quote, error) {
	subtotal := Subtotal(items)

	shipping, ok := r.Shipping[strings.ToLower(shippingMethod)]
	if !ok {
		return Quote{}, NewValidationError("shippingMethod", fmt.Sprintf("unknown shipping method %q", shippingMethod))
	}

	discount := decimal.Zero
	if couponCode != "" {
		c, ok := r.Coupons[strings.ToUpper(couponCode)]
		if !ok {
			return Quote{}, NewValidationError("coupon", fmt.Sprintf("unknown coupon %q", couponCode))
		}
		if subtotal.LessThan(c.MinSubtotal) {
			return Quote{}, NewValidationError("coupon", fmt.Sprintf("coupon %q requires a subtotal of at least %s", c.Code, c.MinSubtotal.StringFixed(2)))
		}
		discount = subtotal.Mul(c.Percent).Div(hundred).Add(c.Flat).Round(2)
		if discount.GreaterThan(subtotal) {
			discount = subtotal
		}
	}

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Total:    ComputeTotal(items, shipping, discount),
	}, nil
}

func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// ComputeTotal returns sum(price*qty) + shipping - discount.
func ComputeTotal(items []OrderItem, shipping, discount decimal.Decimal) decimal.Decimal {
	return Subtotal(items).Add(shipping).Sub(discount)
}

// TotalsMatch reports whether a and b differ by no more than Epsilon.
func TotalsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// ToMinorUnits converts a currency amount to its minor unit, rounding half
// away from zero.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// MinorAmountsMatch compares two minor-unit amounts within Epsilon.
func MinorAmountsMatch(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 1
}
