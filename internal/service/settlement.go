package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type settleOutcome int

const (
	settleDuplicate settleOutcome = iota
	settleMismatch
	settleOrphaned
	settlePaid
)

// Reconciler finalizes PENDING orders from authenticated payment notifications
type Reconciler struct {
	repo      store.Repository
	orders    *OrderService
	inventory *InventoryLedger
	cart      *CartService
	locker    Locker
	notifier  Notifier
	publisher EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewReconciler creates a new settlement reconciler
func NewReconciler(
	repo store.Repository,
	orders *OrderService,
	inventory *InventoryLedger,
	cart *CartService,
	deps Deps,
	lockTTL time.Duration,
) *Reconciler {
	deps = deps.withDefaults()
	return &Reconciler{
		repo:      repo,
		orders:    orders,
		inventory: inventory,
		cart:      cart,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
	}
}

// Settle applies a paid notification. Terminal orders are left untouched and
// reported as success; the order row lock makes concurrent duplicates wait.
// Status change, payment record, stock deduction and cart purge commit
// together or not at all. A payment that arrives for a FAILED order, or that
// cannot be settled for lack of stock, is recorded as CAPTURED and alerted on.
func (r *Reconciler) Settle(ctx context.Context, n *payment.Notification) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.Settle", attribute.Int64("order_id", n.OrderID))
	defer span.End()

	start := time.Now()
	defer func() { util.SettlementLatency.Observe(time.Since(start).Seconds()) }()

	release, ok, err := r.locker.Acquire(ctx, fmt.Sprintf("settle:%d", n.OrderID), r.lockTTL)
	if err != nil {
		r.logger.Warn("Settle lock unavailable, relying on row lock",
			zap.Int64("order_id", n.OrderID), zap.Error(err))
	} else if !ok {
		return apperr.ErrSettlementBusy.WithDetail("order %d", n.OrderID)
	}
	defer release()

	var (
		outcome    settleOutcome
		order      *models.Order
		deductions []Deduction
		faulty     int64
	)
	err = r.repo.RunInTx(ctx, func(ctx context.Context, repo store.Repository) error {
		deductions = deductions[:0]

		var err error
		order, err = repo.GetOrderForUpdate(ctx, n.OrderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			outcome = settleDuplicate
			if order.Status != models.OrderStatusFailed {
				return nil
			}
			known, err := r.knownTrade(ctx, repo, order.ID, n.TradeNo)
			if err != nil || known {
				return err
			}
			outcome = settleOrphaned
			if err := repo.UpdatePaymentStatus(ctx, order.ID, order.TotalAmount, models.PaymentStatusCaptured, n.TradeNo); err != nil {
				return err
			}
			return r.markProcessed(ctx, repo, n)
		}

		if !n.MatchesAmount(order.TotalAmount) {
			outcome = settleMismatch
			if err := r.orders.fail(ctx, repo, order); err != nil {
				return err
			}
			if err := repo.UpdatePaymentStatus(ctx, order.ID, order.TotalAmount, models.PaymentStatusFailed, n.TradeNo); err != nil {
				return err
			}
			return r.markProcessed(ctx, repo, n)
		}

		moved, err := repo.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusSuccess)
		if err != nil {
			return err
		}
		if !moved {
			outcome = settleDuplicate
			return nil
		}
		order.Status = models.OrderStatusSuccess

		if err := repo.UpdatePaymentStatus(ctx, order.ID, order.TotalAmount, models.PaymentStatusSuccess, n.TradeNo); err != nil {
			return err
		}
		if err := r.markProcessed(ctx, repo, n); err != nil {
			return err
		}

		items, err := repo.GetOrderItemsByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			d, err := r.inventory.Deduct(ctx, repo, item.ProductID, item.Quantity)
			if err != nil {
				if errors.Is(err, apperr.ErrOutOfStock) || errors.Is(err, apperr.ErrProductNotFound) {
					faulty = item.ProductID
					return apperr.ErrIntegrityFault.WithDetail("order %d, product %d", order.ID, item.ProductID).Wrap(err)
				}
				return err
			}
			deductions = append(deductions, d)
		}

		cartItemIDs, err := repo.GetLinkedCartItemIDs(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := r.cart.Purge(ctx, repo, cartItemIDs); err != nil {
			return err
		}

		outcome = settlePaid
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		if errors.Is(err, apperr.ErrIntegrityFault) {
			r.recordCapture(ctx, n, order.TotalAmount)
			r.reportFault(ctx, n, faulty, err)
		}
		return err
	}

	switch outcome {
	case settleDuplicate:
		util.DuplicateNotificationsTotal.Inc()
		r.logger.Info("Notification for settled order ignored",
			zap.Int64("order_id", n.OrderID),
			zap.String("status", string(order.Status)),
			zap.String("notify_id", n.NotifyID))
		return nil

	case settleOrphaned:
		r.reportFault(ctx, n, 0, apperr.ErrIntegrityFault.WithDetail("order %d was paid after it failed", order.ID))
		return nil

	case settleMismatch:
		util.OrdersFailedTotal.WithLabelValues("amount_mismatch").Inc()
		r.logger.Warn("Paid amount does not match order total, order failed",
			zap.Int64("order_id", order.ID),
			zap.Int64("total_amount", order.TotalAmount),
			zap.String("paid_amount", n.Amount.String()),
			zap.String("trade_no", n.TradeNo))
		r.orders.publishFailed(ctx, order.ID, "amount_mismatch")
		return apperr.ErrAmountMismatch.WithDetail("order %d: expected %s, got %s",
			order.ID, payment.FormatAmount(order.TotalAmount), n.Amount.String())
	}

	r.inventory.AfterDeduct(ctx, deductions)
	util.OrdersPaidTotal.Inc()
	r.logger.Info("Order settled",
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", order.TotalAmount),
		zap.String("trade_no", n.TradeNo))

	event := &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:   order.ID,
		AccountID: order.AccountID,
		Amount:    order.TotalAmount,
		TxID:      n.TradeNo,
	}
	if err := r.publisher.PublishOrderPaid(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderPaid event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	if err := r.notifier.Notify(ctx, order.AccountID, models.MessageKindOrderPaid); err != nil {
		r.logger.Warn("Failed to notify buyer", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return nil
}

func (r *Reconciler) markProcessed(ctx context.Context, repo store.Repository, n *payment.Notification) error {
	if n.NotifyID == "" {
		return nil
	}
	_, err := repo.MarkNotificationProcessed(ctx, n.NotifyID, n.OrderID)
	return err
}

// knownTrade reports whether trade was already recorded against the order,
// as a rejected mismatch or an earlier capture
func (r *Reconciler) knownTrade(ctx context.Context, repo store.Repository, orderID int64, tradeNo string) (bool, error) {
	p, err := repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil || p == nil {
		return false, err
	}
	if p.ProviderTxID != tradeNo {
		return false, nil
	}
	return p.Status == models.PaymentStatusFailed || p.Status == models.PaymentStatusCaptured, nil
}

// recordCapture persists the capture outside the rolled-back settlement so
// the order cannot be cancelled while the provider retries
func (r *Reconciler) recordCapture(ctx context.Context, n *payment.Notification, amount int64) {
	if err := r.repo.UpdatePaymentStatus(ctx, n.OrderID, amount, models.PaymentStatusCaptured, n.TradeNo); err != nil {
		r.logger.Error("Failed to record captured payment",
			zap.Int64("order_id", n.OrderID),
			zap.String("trade_no", n.TradeNo),
			zap.Error(err))
	}
}

// reportFault alerts operators: the buyer has paid but the order could not be
// settled. After a stock shortfall the order stays PENDING so the provider
// keeps retrying.
func (r *Reconciler) reportFault(ctx context.Context, n *payment.Notification, productID int64, cause error) {
	util.SettlementIntegrityFaults.Inc()
	r.logger.Error("Settlement integrity fault, manual intervention required",
		zap.Int64("order_id", n.OrderID),
		zap.Int64("product_id", productID),
		zap.String("trade_no", n.TradeNo),
		zap.String("paid_amount", n.Amount.String()),
		zap.Error(cause))

	event := &models.SettlementFaultEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeSettlementFault),
		OrderID:   n.OrderID,
		ProductID: productID,
		TxID:      n.TradeNo,
		Reason:    cause.Error(),
	}
	if err := r.publisher.PublishSettlementFault(ctx, event); err != nil {
		r.logger.Error("Failed to publish SettlementFault event", zap.Int64("order_id", n.OrderID), zap.Error(err))
	}
}
