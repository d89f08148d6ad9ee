package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() PricingRules {
	return PricingRules{
		Shipping: map[string]decimal.Decimal{
			"standard": decimal.NewFromInt(80),
			"express":  decimal.NewFromInt(150),
		},
		Coupons: map[string]Coupon{
			"WELCOME10": {Code: "WELCOME10", Percent: decimal.NewFromInt(10)},
			"FLAT500":   {Code: "FLAT500", Flat: decimal.NewFromInt(500), MinSubtotal: decimal.NewFromInt(1000)},
			"HUGE":      {Code: "HUGE", Flat: decimal.NewFromInt(100000)},
		},
	}
}

func items(prices ...string) []OrderItem {
	out := make([]OrderItem, 0, len(prices))
	for i, p := range prices {
		out = append(out, OrderItem{
			ProductID: "p-" + string(rune('a'+i)),
			Quantity:  1,
			UnitPrice: decimal.RequireFromString(p),
		})
	}
	return out
}

func TestPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		items     []OrderItem
		shipping  string
		coupon    string
		wantTotal string
		wantErr   bool
	}{
		{name: "no_coupon", items: items("850"), shipping: "standard", wantTotal: "930"},
		{name: "express", items: items("100.50", "49.50"), shipping: "EXPRESS", wantTotal: "300"},
		{name: "percent_coupon", items: items("1000"), shipping: "standard", coupon: "welcome10", wantTotal: "980"},
		{name: "flat_coupon", items: items("1200"), shipping: "standard", coupon: "FLAT500", wantTotal: "780"},
		{name: "flat_coupon_below_minimum", items: items("999"), shipping: "standard", coupon: "FLAT500", wantErr: true},
		{name: "discount_capped_at_subtotal", items: items("300"), shipping: "standard", coupon: "HUGE", wantTotal: "80"},
		{name: "unknown_shipping", items: items("10"), shipping: "drone", wantErr: true},
		{name: "unknown_coupon", items: items("10"), shipping: "standard", coupon: "NOPE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q, err := testRules().Price(tt.items, tt.shipping, tt.coupon)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, q.Total.Equal(decimal.RequireFromString(tt.wantTotal)), "got total %s", q.Total)
			assert.True(t, q.Total.Equal(ComputeTotal(tt.items, q.Shipping, q.Discount)))
		})
	}
}

func TestQuantityMultipliesUnitPrice(t *testing.T) {
	t.Parallel()

	it := []OrderItem{{ProductID: "p", Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")}}
	assert.Equal(t, "59.97", Subtotal(it).StringFixed(2))
}

func TestTotalsMatch(t *testing.T) {
	t.Parallel()

	base := decimal.RequireFromString("930.00")
	assert.True(t, TotalsMatch(base, decimal.RequireFromString("930.01")))
	assert.True(t, TotalsMatch(base, decimal.RequireFromString("929.99")))
	assert.False(t, TotalsMatch(base, decimal.RequireFromString("930.02")))
	assert.False(t, TotalsMatch(base, decimal.RequireFromString("100")))
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(93000), ToMinorUnits(decimal.RequireFromString("930")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("9.995")))
	assert.True(t, FromMinorUnits(93000).Equal(decimal.NewFromInt(930)))

	assert.True(t, MinorAmountsMatch(93000, 93001))
	assert.False(t, MinorAmountsMatch(93000, 10000))
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPaid.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, PaymentStatus("SHIPPED").Valid())
}

func TestOrderExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	o := &Order{PaymentStatus: StatusPending, CreatedAt: now.Add(-31 * time.Minute)}

	assert.True(t, o.Expired(now, 30*time.Minute))
	assert.False(t, o.Expired(now, time.Hour))

	o.PaymentStatus = StatusPaid
	assert.False(t, o.Expired(now, 30*time.Minute))
}

func TestValidationErrorIs(t *testing.T) {
	t.Parallel()

	err := NewValidationError("items", "at least one item is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "items: at least one item is required", err.Error())
}
