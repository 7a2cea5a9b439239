package service

import (
	"context"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CouponService manages coupon definitions, issuance and account balances.
// Issuance is counted against the pool when an account receives a coupon;
// the account balance is consumed when an order uses it.
type CouponService struct {
	repo   store.Repository
	now    func() time.Time
	logger *zap.Logger
}

// NewCouponService creates a new coupon service
func NewCouponService(repo store.Repository) *CouponService {
	return &CouponService{
		repo:   repo,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Create validates and stores a coupon definition
func (s *CouponService) Create(ctx context.Context, coupon *models.Coupon) error {
	ctx, span := util.StartSpan(ctx, "CouponService.Create")
	defer span.End()

	coupon.Name = strings.TrimSpace(coupon.Name)
	switch {
	case coupon.Name == "":
		return apperr.ErrInvalidArgument.WithDetail("coupon name is required")
	case !coupon.Valid():
		return apperr.ErrInvalidArgument.WithDetail("invalid %s value %s", coupon.DiscountType, coupon.DiscountValue)
	case !coupon.StartTime.Before(coupon.EndTime):
		return apperr.ErrInvalidArgument.WithDetail("start_time must be before end_time")
	case coupon.Quantity < 0:
		return apperr.ErrInvalidArgument.WithDetail("quantity must be >= 0")
	}
	coupon.UsedQuantity = 0

	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		util.RecordError(span, err)
		return err
	}
	s.logger.Info("Coupon created",
		zap.Int64("coupon_id", coupon.ID),
		zap.String("discount_type", string(coupon.DiscountType)),
		zap.Int("quantity", coupon.Quantity))
	return nil
}

func (s *CouponService) Get(ctx context.Context, couponID int64) (*models.Coupon, error) {
	return s.repo.GetCoupon(ctx, couponID)
}

func (s *CouponService) List(ctx context.Context) ([]models.Coupon, error) {
	return s.repo.ListCoupons(ctx)
}

func (s *CouponService) Balances(ctx context.Context, accountID int64) ([]models.AccountCouponBalance, error) {
	return s.repo.ListCouponBalances(ctx, accountID)
}

// ComputeDiscount returns what base costs after couponID is applied
func (s *CouponService) ComputeDiscount(ctx context.Context, couponID int64, base int64) (int64, error) {
	coupon, err := s.repo.GetCoupon(ctx, couponID)
	if err != nil {
		return 0, err
	}
	return models.ComputeDiscount(coupon, base), nil
}

// Receive moves quantity units from the issuance pool into the account's
// balance in one unit of work
func (s *CouponService) Receive(ctx context.Context, accountID, couponID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CouponService.Receive",
		attribute.Int64("account_id", accountID), attribute.Int64("coupon_id", couponID))
	defer span.End()

	if quantity <= 0 {
		return apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}

	err := s.repo.RunInTx(ctx, func(ctx context.Context, repo store.Repository) error {
		coupon, err := repo.GetCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		if !coupon.ActiveAt(s.now()) {
			return apperr.ErrCouponUnavailable.WithDetail("coupon %d", couponID)
		}
		if err := repo.IssueCoupon(ctx, couponID, quantity); err != nil {
			return err
		}
		return repo.AddCouponBalance(ctx, accountID, couponID, quantity)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	util.CouponsReceivedTotal.Add(float64(quantity))
	s.logger.Info("Coupon received",
		zap.Int64("account_id", accountID),
		zap.Int64("coupon_id", couponID),
		zap.Int("quantity", quantity))
	return nil
}

// Consume takes quantity units from the account's balance on repo
func (s *CouponService) Consume(ctx context.Context, repo store.Repository, accountID, couponID int64, quantity int) error {
	if quantity <= 0 {
		return apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}
	return repo.ConsumeCouponBalance(ctx, accountID, couponID, quantity)
}

// Refund gives consumed units back when the order that used them fails
func (s *CouponService) Refund(ctx context.Context, repo store.Repository, accountID, couponID int64, quantity int) error {
	return repo.AddCouponBalance(ctx, accountID, couponID, quantity)
}

// usable loads a coupon and checks it can be applied now
func (s *CouponService) usable(ctx context.Context, repo store.Repository, couponID int64) (*models.Coupon, error) {
	coupon, err := repo.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if !coupon.ActiveAt(s.now()) {
		return nil, apperr.ErrCouponUnavailable.WithDetail("coupon %d", couponID)
	}
	return coupon, nil
}
