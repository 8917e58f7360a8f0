package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var shipping = Shipping{FreeThreshold: d("30.00"), FlatCost: d("3.90")}

func TestCompute(t *testing.T) {
	tests := []struct {
		name         string
		in           Input
		wantSubtotal decimal.Decimal
		wantDiscount decimal.Decimal
		wantAfter    decimal.Decimal
		wantShipping decimal.Decimal
		wantTotal    decimal.Decimal
	}{
		{
			name: "below threshold pays flat shipping",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("12.50"), Quantity: 2}},
				Shipping: shipping,
			},
			wantSubtotal: d("25.00"),
			wantDiscount: d("0"),
			wantAfter:    d("25.00"),
			wantShipping: d("3.90"),
			wantTotal:    d("28.90"),
		},
		{
			name: "percentage discount still reaching threshold ships free",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("20.00"), Quantity: 2}},
				Discount: &Discount{Code: "TEN", Type: DiscountPercentage, Value: d("10")},
				Shipping: shipping,
			},
			wantSubtotal: d("40.00"),
			wantDiscount: d("4.00"),
			wantAfter:    d("36.00"),
			wantShipping: d("0"),
			wantTotal:    d("36.00"),
		},
		{
			name: "fixed discount larger than subtotal floors at zero",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("10.00"), Quantity: 1}},
				Discount: &Discount{Code: "BIG", Type: DiscountFixed, Value: d("15.00")},
				Shipping: shipping,
			},
			wantSubtotal: d("10.00"),
			wantDiscount: d("15.00"),
			wantAfter:    d("0"),
			wantShipping: d("3.90"),
			wantTotal:    d("3.90"),
		},
		{
			name: "threshold equality ships free",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("15.00"), Quantity: 2}},
				Shipping: shipping,
			},
			wantSubtotal: d("30.00"),
			wantDiscount: d("0"),
			wantAfter:    d("30.00"),
			wantShipping: d("0"),
			wantTotal:    d("30.00"),
		},
		{
			name: "threshold is checked after discount",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("32.00"), Quantity: 1}},
				Discount: &Discount{Code: "FIVE", Type: DiscountFixed, Value: d("5.00")},
				Shipping: shipping,
			},
			wantSubtotal: d("32.00"),
			wantDiscount: d("5.00"),
			wantAfter:    d("27.00"),
			wantShipping: d("3.90"),
			wantTotal:    d("30.90"),
		},
		{
			name: "minimum order amount not met ignores discount",
			in: Input{
				Lines: []Line{{ProductID: "p1", UnitPrice: d("20.00"), Quantity: 1}},
				Discount: &Discount{
					Code: "MIN50", Type: DiscountPercentage, Value: d("20"), MinOrderAmount: d("50.00"),
				},
				Shipping: shipping,
			},
			wantSubtotal: d("20.00"),
			wantDiscount: d("0"),
			wantAfter:    d("20.00"),
			wantShipping: d("3.90"),
			wantTotal:    d("23.90"),
		},
		{
			name: "gift lines count toward subtotal and gift costs are added last",
			in: Input{
				Lines: []Line{
					{ProductID: "p1", UnitPrice: d("10.00"), Quantity: 1},
					{ProductID: "g1", UnitPrice: d("5.00"), Quantity: 2, Gift: true},
				},
				GiftOptionCost:  d("2.50"),
				GiftProductCost: d("7.00"),
				Shipping:        shipping,
			},
			wantSubtotal: d("20.00"),
			wantDiscount: d("0"),
			wantAfter:    d("20.00"),
			wantShipping: d("3.90"),
			wantTotal:    d("33.40"),
		},
		{
			name: "percentage rounds to cents",
			in: Input{
				Lines:    []Line{{ProductID: "p1", UnitPrice: d("9.99"), Quantity: 3}},
				Discount: &Discount{Code: "P15", Type: DiscountPercentage, Value: d("15")},
				Shipping: shipping,
			},
			// 29.97 * 15% = 4.4955 -> 4.50
			wantSubtotal: d("29.97"),
			wantDiscount: d("4.50"),
			wantAfter:    d("25.47"),
			wantShipping: d("3.90"),
			wantTotal:    d("29.37"),
		},
		{
			name:         "empty cart pays shipping only",
			in:           Input{Shipping: shipping},
			wantSubtotal: d("0"),
			wantDiscount: d("0"),
			wantAfter:    d("0"),
			wantShipping: d("3.90"),
			wantTotal:    d("3.90"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.in)

			assert.True(t, tt.wantSubtotal.Equal(got.Subtotal), "subtotal: want %s, got %s", tt.wantSubtotal, got.Subtotal)
			assert.True(t, tt.wantDiscount.Equal(got.DiscountAmount), "discount: want %s, got %s", tt.wantDiscount, got.DiscountAmount)
			assert.True(t, tt.wantAfter.Equal(got.SubtotalAfterDiscount), "after discount: want %s, got %s", tt.wantAfter, got.SubtotalAfterDiscount)
			assert.True(t, tt.wantShipping.Equal(got.ShippingCost), "shipping: want %s, got %s", tt.wantShipping, got.ShippingCost)
			assert.True(t, tt.wantTotal.Equal(got.Total), "total: want %s, got %s", tt.wantTotal, got.Total)
			assert.False(t, got.SubtotalAfterDiscount.IsNegative())
			assert.False(t, got.Total.IsNegative())
		})
	}
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		Lines: []Line{
			{ProductID: "p1", UnitPrice: d("3.33"), Quantity: 7},
			{ProductID: "p2", UnitPrice: d("0.99"), Quantity: 3},
		},
		Discount:       &Discount{Code: "X", Type: DiscountPercentage, Value: d("12.5")},
		GiftOptionCost: d("1.20"),
		Shipping:       shipping,
	}

	first := Compute(in)
	for range 100 {
		require.True(t, first.Equal(Compute(in)))
	}
}

func TestEligible(t *testing.T) {
	disc := &Discount{MinOrderAmount: d("25")}
	assert.False(t, Eligible(nil, d("100")))
	assert.False(t, Eligible(disc, d("24.99")))
	assert.True(t, Eligible(disc, d("25")))
}
