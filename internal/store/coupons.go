package store

import (
	"context"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const couponColumns = "id, name, discount_type, discount_value, start_time, end_time, quantity, used_quantity, created_at"

// CreateCoupon inserts a coupon definition
func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	query := `
		INSERT INTO coupons (name, discount_type, discount_value, start_time, end_time, quantity, used_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.q.GetContext(ctx, coupon, query,
		coupon.Name, string(coupon.DiscountType), coupon.DiscountValue,
		coupon.StartTime, coupon.EndTime, coupon.Quantity, coupon.UsedQuantity)
}

// GetCoupon retrieves a coupon by ID
func (s *Store) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.q.GetContext(ctx, &coupon, "SELECT "+couponColumns+" FROM coupons WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.ErrCouponNotFound, id)
	}
	return &coupon, nil
}

// ListCoupons retrieves all coupons
func (s *Store) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	coupons := []models.Coupon{}
	err := s.q.SelectContext(ctx, &coupons, "SELECT "+couponColumns+" FROM coupons ORDER BY id")
	return coupons, err
}

// IssueCoupon takes quantity units from the issuance pool if enough remain
func (s *Store) IssueCoupon(ctx context.Context, couponID int64, quantity int) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE coupons SET used_quantity = used_quantity + $1 WHERE id = $2 AND quantity - used_quantity >= $1",
		quantity, couponID)
	if err != nil {
		return fmt.Errorf("failed to issue coupon %d: %w", couponID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	found, err := s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM coupons WHERE id = $1)", couponID)
	if err != nil {
		return fmt.Errorf("failed to check coupon %d: %w", couponID, err)
	}
	if !found {
		return apperr.ErrCouponNotFound.WithDetail("id %d", couponID)
	}
	return apperr.ErrCouponExhausted.WithDetail("coupon %d, requested %d", couponID, quantity)
}

// AddCouponBalance creates or increments an account's balance
func (s *Store) AddCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO account_coupons (account_id, coupon_id, remaining_quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, coupon_id)
		DO UPDATE SET remaining_quantity = account_coupons.remaining_quantity + EXCLUDED.remaining_quantity`,
		accountID, couponID, quantity)
	if err != nil {
		return fmt.Errorf("failed to add coupon balance: %w", err)
	}
	return nil
}

// ConsumeCouponBalance decrements an account's balance if enough is left
func (s *Store) ConsumeCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE account_coupons SET remaining_quantity = remaining_quantity - $1 WHERE account_id = $2 AND coupon_id = $3 AND remaining_quantity >= $1",
		quantity, accountID, couponID)
	if err != nil {
		return fmt.Errorf("failed to consume coupon balance: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrInsufficientBalance.WithDetail("account %d, coupon %d", accountID, couponID)
	}
	return nil
}

// ListCouponBalances retrieves the coupons an account holds
func (s *Store) ListCouponBalances(ctx context.Context, accountID int64) ([]models.AccountCouponBalance, error) {
	balances := []models.AccountCouponBalance{}
	err := s.q.SelectContext(ctx, &balances,
		"SELECT account_id, coupon_id, remaining_quantity FROM account_coupons WHERE account_id = $1 ORDER BY coupon_id",
		accountID)
	return balances, err
}
