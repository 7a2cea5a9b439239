package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeDiscountFixedAmount(t *testing.T) {
	c := &Coupon{DiscountType: DiscountFixedAmount, DiscountValue: decimal.NewFromInt(50)}

	assert.Equal(t, int64(30), ComputeDiscount(c, 30), "fixed value above base is not applied")
	assert.Equal(t, int64(0), ComputeDiscount(c, 50))
	assert.Equal(t, int64(150), ComputeDiscount(c, 200))
}

func TestComputeDiscountNeverNegative(t *testing.T) {
	c := &Coupon{DiscountType: DiscountFixedAmount, DiscountValue: decimal.NewFromInt(999)}
	for base := int64(0); base < 2000; base += 37 {
		assert.GreaterOrEqual(t, ComputeDiscount(c, base), int64(0))
	}
}

func TestComputeDiscountPercentage(t *testing.T) {
	tests := []struct {
		value string
		base  int64
		want  int64
	}{
		{"0.8", 1000, 800},
		{"1", 1234, 1234},
		{"0.25", 400, 100},
		{"0.5", 3, 2},
	}

	for _, tt := range tests {
		c := &Coupon{DiscountType: DiscountPercentage, DiscountValue: decimal.RequireFromString(tt.value)}
		assert.Equal(t, tt.want, ComputeDiscount(c, tt.base), "value=%s base=%d", tt.value, tt.base)
	}
}

func TestComputeDiscountWithoutCoupon(t *testing.T) {
	assert.Equal(t, int64(42), ComputeDiscount(nil, 42))
}

func TestCouponValid(t *testing.T) {
	assert.True(t, (&Coupon{DiscountType: DiscountPercentage, DiscountValue: decimal.RequireFromString("0.9")}).Valid())
	assert.False(t, (&Coupon{DiscountType: DiscountPercentage, DiscountValue: decimal.RequireFromString("1.1")}).Valid())
	assert.False(t, (&Coupon{DiscountType: DiscountPercentage, DiscountValue: decimal.Zero}).Valid())
	assert.True(t, (&Coupon{DiscountType: DiscountFixedAmount, DiscountValue: decimal.NewFromInt(500)}).Valid())
	assert.False(t, (&Coupon{DiscountType: DiscountFixedAmount, DiscountValue: decimal.RequireFromString("0.5")}).Valid())
	assert.False(t, (&Coupon{DiscountType: "BOGO", DiscountValue: decimal.NewFromInt(1)}).Valid())
}

func TestCouponActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Coupon{StartTime: start, EndTime: start.Add(24 * time.Hour)}

	assert.False(t, c.ActiveAt(start.Add(-time.Second)))
	assert.True(t, c.ActiveAt(start))
	assert.True(t, c.ActiveAt(start.Add(24*time.Hour)))
	assert.False(t, c.ActiveAt(start.Add(25*time.Hour)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusSuccess))
	assert.True(t, CanTransition(OrderStatusPending, OrderStatusFailed))
	assert.False(t, CanTransition(OrderStatusSuccess, OrderStatusFailed))
	assert.False(t, CanTransition(OrderStatusFailed, OrderStatusSuccess))
	assert.False(t, CanTransition(OrderStatusPending, OrderStatusPending))
}

func TestSubtotal(t *testing.T) {
	items := []OrderItem{
		{ProductID: 1, Quantity: 3, UnitPrice: 1000},
		{ProductID: 2, Quantity: 1, UnitPrice: 250},
	}
	assert.Equal(t, int64(3250), Subtotal(items))
	assert.Equal(t, int64(0), Subtotal(nil))
}
