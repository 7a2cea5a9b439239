package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Coupon is an issued discount. DiscountValue is a fraction in (0,1] for
// PERCENTAGE and an amount in minor units for FIXED_AMOUNT.
type Coupon struct {
	ID            int64           `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	StartTime     time.Time       `db:"start_time" json:"start_time"`
	EndTime       time.Time       `db:"end_time" json:"end_time"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UsedQuantity  int             `db:"used_quantity" json:"used_quantity"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// AccountCouponBalance is how many units of a coupon an account still holds
type AccountCouponBalance struct {
	AccountID         int64 `db:"account_id" json:"account_id"`
	CouponID          int64 `db:"coupon_id" json:"coupon_id"`
	RemainingQuantity int   `db:"remaining_quantity" json:"remaining_quantity"`
}

// ActiveAt reports whether now is inside [StartTime, EndTime].
func (c *Coupon) ActiveAt(now time.Time) bool {
	return !now.Before(c.StartTime) && !now.After(c.EndTime)
}

// Remaining is the part of the issuance pool not yet received by any account.
func (c *Coupon) Remaining() int {
	return c.Quantity - c.UsedQuantity
}

// Valid reports whether the discount definition is well formed.
func (c *Coupon) Valid() bool {
	switch c.DiscountType {
	case DiscountPercentage:
		return c.DiscountValue.IsPositive() && c.DiscountValue.LessThanOrEqual(decimal.NewFromInt(1))
	case DiscountFixedAmount:
		return c.DiscountValue.IsPositive() && c.DiscountValue.IsInteger()
	default:
		return false
	}
}

// ComputeDiscount returns the amount to pay for base after applying c.
// A fixed amount larger than base is not applied, so the result is never negative.
func ComputeDiscount(c *Coupon, base int64) int64 {
	if c == nil || base <= 0 {
		return base
	}
	amount := decimal.NewFromInt(base)
	switch c.DiscountType {
	case DiscountPercentage:
		return amount.Mul(c.DiscountValue).Round(0).IntPart()
	case DiscountFixedAmount:
		if amount.LessThan(c.DiscountValue) {
			return base
		}
		return amount.Sub(c.DiscountValue).IntPart()
	default:
		return base
	}
}
