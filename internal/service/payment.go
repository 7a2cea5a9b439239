package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService asks the provider for payment forms and accepts its callbacks
type PaymentService struct {
	repo       store.Repository
	gateway    payment.Gateway
	reconciler *Reconciler
	timeout    time.Duration
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo store.Repository, gateway payment.Gateway, reconciler *Reconciler, timeout time.Duration) *PaymentService {
	return &PaymentService{
		repo:       repo,
		gateway:    gateway,
		reconciler: reconciler,
		timeout:    timeout,
		logger:     util.GetLogger(),
	}
}

// RequestPayment returns the provider form for one of the account's pending
// orders. On timeout the order simply stays PENDING.
func (s *PaymentService) RequestPayment(ctx context.Context, accountID, orderID int64) (*payment.Form, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RequestPayment", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, apperr.ErrOrderNotFound.WithDetail("id %d", orderID)
	}
	if order.Status != models.OrderStatusPending {
		return nil, apperr.ErrOrderNotPending.WithDetail("order %d is %s", orderID, order.Status)
	}
	last, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.Status == models.PaymentStatusCaptured {
		return nil, apperr.ErrPaymentCaptured.WithDetail("order %d, trade %s", orderID, last.ProviderTxID)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	form, err := s.gateway.RequestPayment(gwCtx, payment.Request{
		OrderID: order.ID,
		Amount:  order.TotalAmount,
		Subject: fmt.Sprintf("Order %d", order.ID),
	})
	util.PaymentRequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			util.PaymentRequestsTotal.WithLabelValues("timeout").Inc()
			s.logger.Warn("Payment gateway timed out, order left pending",
				zap.Int64("order_id", orderID), zap.Duration("timeout", s.timeout))
			return nil, apperr.ErrGatewayUnavailable.Wrap(err)
		}
		util.PaymentRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.repo.CreatePayment(ctx, &models.Payment{
		OrderID: order.ID,
		Status:  models.PaymentStatusPending,
		Amount:  order.TotalAmount,
	}); err != nil {
		return nil, fmt.Errorf("failed to record payment request: %w", err)
	}

	util.PaymentRequestsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Payment requested",
		zap.Int64("order_id", orderID),
		zap.Int64("amount", order.TotalAmount))
	return form, nil
}

// HandleNotification authenticates a provider callback and settles the order
// when the trade is paid. A nil error means the provider may stop retrying.
func (s *PaymentService) HandleNotification(ctx context.Context, values url.Values) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleNotification")
	defer span.End()

	n, err := s.gateway.ParseAndAuthenticate(values)
	if err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Payment notification rejected", zap.Error(err))
		return err
	}
	span.SetAttributes(attribute.Int64("order_id", n.OrderID))

	if !n.Paid() {
		s.logger.Info("Payment notification ignored",
			zap.Int64("order_id", n.OrderID),
			zap.String("trade_status", n.Status))
		return nil
	}

	return s.reconciler.Settle(ctx, n)
}
