// Package pricing turns priced cart lines, an optional discount and gift
// selections into a totals breakdown. Compute is the only place order
// arithmetic happens: the totals shown to a shopper and the totals persisted
// with an order both come from it.
package pricing

import (
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes Value percent off the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes Value off the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Line is a priced cart or gift line.
type Line struct {
	ProductID       string          `json:"product_id"`
	PackageOptionID string          `json:"package_option_id,omitempty"`
	Description     string          `json:"description"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	Gift            bool            `json:"gift"`
}

// Total returns UnitPrice × Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Discount is an applied discount code.
type Discount struct {
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
}

// Shipping holds the flat shipping cost and the post-discount subtotal at or
// above which shipping is free.
type Shipping struct {
	FreeThreshold decimal.Decimal
	FlatCost      decimal.Decimal
}

// Input is everything Compute needs.
type Input struct {
	Lines           []Line
	Discount        *Discount
	GiftOptionCost  decimal.Decimal
	GiftProductCost decimal.Decimal
	Shipping        Shipping
}

// Totals is the pricing breakdown.
type Totals struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	SubtotalAfterDiscount decimal.Decimal `json:"subtotal_after_discount"`
	ShippingCost          decimal.Decimal `json:"shipping_cost"`
	GiftOptionCost        decimal.Decimal `json:"gift_option_cost"`
	GiftProductCost       decimal.Decimal `json:"gift_product_cost"`
	Total                 decimal.Decimal `json:"total"`
}

// Equal reports whether every component of t and o is numerically equal.
func (t Totals) Equal(o Totals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.DiscountAmount.Equal(o.DiscountAmount) &&
		t.SubtotalAfterDiscount.Equal(o.SubtotalAfterDiscount) &&
		t.ShippingCost.Equal(o.ShippingCost) &&
		t.GiftOptionCost.Equal(o.GiftOptionCost) &&
		t.GiftProductCost.Equal(o.GiftProductCost) &&
		t.Total.Equal(o.Total)
}

// Compute prices in, in this order: subtotal, discount, subtotal after
// discount (floored at zero), shipping against the free threshold (inclusive)
// and finally the total including gift costs.
func Compute(in Input) Totals {
	subtotal := calcSubtotal(in.Lines)
	discount := discountAmount(in.Discount, subtotal)
	after := floorAtZero(subtotal.Sub(discount))

	shipping := in.Shipping.FlatCost
	if after.GreaterThanOrEqual(in.Shipping.FreeThreshold) {
		shipping = decimal.Zero
	}

	total := after.Add(shipping).Add(in.GiftOptionCost).Add(in.GiftProductCost)

	return Totals{
		Subtotal:              subtotal.Round(2),
		DiscountAmount:        discount.Round(2),
		SubtotalAfterDiscount: after.Round(2),
		ShippingCost:          shipping.Round(2),
		GiftOptionCost:        in.GiftOptionCost.Round(2),
		GiftProductCost:       in.GiftProductCost.Round(2),
		Total:                 floorAtZero(total).Round(2),
	}
}

// Eligible reports whether d may be applied to subtotal.
func Eligible(d *Discount, subtotal decimal.Decimal) bool {
	return d != nil && subtotal.GreaterThanOrEqual(d.MinOrderAmount)
}

// Subtotal returns the sum of all line totals.
func Subtotal(lines []Line) decimal.Decimal {
	return calcSubtotal(lines)
}

func discountAmount(d *Discount, subtotal decimal.Decimal) decimal.Decimal {
	if !Eligible(d, subtotal) {
		return decimal.Zero
	}
	switch d.Type {
	case DiscountPercentage:
		return floorAtZero(subtotal.Mul(d.Value).Div(hundred)).Round(2)
	case DiscountFixed:
		return floorAtZero(d.Value)
	default:
		return decimal.Zero
	}
}

func calcSubtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
