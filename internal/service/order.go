package service

import (
	"context"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckoutRequest turns a subset of an account's cart into an order
type CheckoutRequest struct {
	AccountID     int64   `json:"-"`
	CartItemIDs   []int64 `json:"cart_item_ids" binding:"required,min=1"`
	CouponID      *int64  `json:"coupon_id,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
}

// OrderView is an order with its line items
type OrderView struct {
	models.Order
	Items []models.OrderItem `json:"items"`
}

// OrderService builds orders from carts and owns the order state machine
type OrderService struct {
	repo      store.Repository
	coupons   *CouponService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo store.Repository, coupons *CouponService, deps Deps) *OrderService {
	deps = deps.withDefaults()
	return &OrderService{
		repo:      repo,
		coupons:   coupons,
		publisher: deps.Publisher,
		logger:    util.GetLogger(),
	}
}

// Checkout snapshots prices and persists a PENDING order. Stock and cart are
// left alone until the order is paid.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout", attribute.Int64("account_id", req.AccountID))
	defer span.End()

	if err := validateCheckout(&req); err != nil {
		return nil, err
	}

	var view *OrderView
	err := s.repo.RunInTx(ctx, func(ctx context.Context, repo store.Repository) error {
		cartItems, err := s.loadCartItems(ctx, repo, req.AccountID, req.CartItemIDs)
		if err != nil {
			return err
		}
		prices, err := s.snapshotPrices(ctx, repo, cartItems)
		if err != nil {
			return err
		}

		items := make([]models.OrderItem, 0, len(cartItems))
		for _, ci := range cartItems {
			items = append(items, models.OrderItem{
				ProductID: ci.ProductID,
				Quantity:  ci.Quantity,
				UnitPrice: prices[ci.ProductID],
			})
		}
		base := models.Subtotal(items)

		total := base
		if req.CouponID != nil {
			coupon, err := s.coupons.usable(ctx, repo, *req.CouponID)
			if err != nil {
				return err
			}
			if err := s.coupons.Consume(ctx, repo, req.AccountID, coupon.ID, 1); err != nil {
				return err
			}
			total = models.ComputeDiscount(coupon, base)
		}

		order := &models.Order{
			AccountID:     req.AccountID,
			TotalAmount:   total,
			PaymentMethod: req.PaymentMethod,
			Status:        models.OrderStatusPending,
			CouponID:      req.CouponID,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := repo.CreateOrderItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		if err := repo.LinkCartItems(ctx, order.ID, req.CartItemIDs); err != nil {
			return err
		}

		view = &OrderView{Order: *order, Items: items}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("checkout_rejected").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", view.ID),
		zap.Int64("account_id", view.AccountID),
		zap.Int64("total_amount", view.TotalAmount))

	s.publishCreated(ctx, view)
	return view, nil
}

// Cancel moves a PENDING order to FAILED on the buyer's request. An order
// whose payment was captured but not yet settled cannot be cancelled.
func (s *OrderService) Cancel(ctx context.Context, accountID, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel", attribute.Int64("order_id", orderID))
	defer span.End()

	err := s.repo.RunInTx(ctx, func(ctx context.Context, repo store.Repository) error {
		order, err := repo.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.AccountID != accountID {
			return apperr.ErrOrderNotFound.WithDetail("id %d", orderID)
		}
		if order.Status != models.OrderStatusPending {
			return apperr.ErrOrderNotPending.WithDetail("order %d is %s", orderID, order.Status)
		}
		p, err := repo.GetPaymentByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if p != nil && p.Status == models.PaymentStatusCaptured {
			return apperr.ErrPaymentCaptured.WithDetail("order %d, trade %s", orderID, p.ProviderTxID)
		}
		return s.fail(ctx, repo, order)
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	util.OrdersCancelledTotal.Inc()
	util.OrdersFailedTotal.WithLabelValues("cancelled").Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID), zap.Int64("account_id", accountID))
	s.publishFailed(ctx, orderID, "cancelled")
	return nil
}

// GetOrder returns one of the account's orders with its items
func (s *OrderService) GetOrder(ctx context.Context, accountID, orderID int64) (*OrderView, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, apperr.ErrOrderNotFound.WithDetail("id %d", orderID)
	}

	items, err := s.repo.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: *order, Items: items}, nil
}

// ListOrders returns the account's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, accountID int64) ([]models.Order, error) {
	return s.repo.ListOrdersByAccount(ctx, accountID)
}

// fail is the PENDING -> FAILED transition shared by cancel and settlement.
// A consumed coupon goes back to the account.
func (s *OrderService) fail(ctx context.Context, repo store.Repository, order *models.Order) error {
	ok, err := repo.TransitionOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusFailed)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrOrderNotPending.WithDetail("order %d", order.ID)
	}
	order.Status = models.OrderStatusFailed

	if order.CouponID != nil {
		if err := s.coupons.Refund(ctx, repo, order.AccountID, *order.CouponID, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateCheckout(req *CheckoutRequest) error {
	if len(req.CartItemIDs) == 0 {
		return apperr.ErrInvalidArgument.WithDetail("at least one cart item is required")
	}
	seen := make(map[int64]struct{}, len(req.CartItemIDs))
	for _, id := range req.CartItemIDs {
		if _, dup := seen[id]; dup {
			return apperr.ErrInvalidArgument.WithDetail("cart item %d listed twice", id)
		}
		seen[id] = struct{}{}
	}

	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodAlipay
	}
	if req.PaymentMethod != models.PaymentMethodAlipay {
		return apperr.ErrInvalidArgument.WithDetail("unsupported payment method %q", req.PaymentMethod)
	}
	return nil
}

// loadCartItems returns the items in request order; all must belong to accountID
func (s *OrderService) loadCartItems(ctx context.Context, repo store.Repository, accountID int64, ids []int64) ([]models.CartItem, error) {
	found, err := repo.GetCartItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.CartItem, len(found))
	for _, item := range found {
		byID[item.ID] = item
	}

	items := make([]models.CartItem, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok || item.AccountID != accountID {
			return nil, apperr.ErrCartItemNotFound.WithDetail("id %d", id)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *OrderService) snapshotPrices(ctx context.Context, repo store.Repository, items []models.CartItem) (map[int64]int64, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	prices := make(map[int64]int64, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price
	}
	for _, item := range items {
		if _, ok := prices[item.ProductID]; !ok {
			return nil, apperr.ErrProductNotFound.WithDetail("id %d", item.ProductID)
		}
	}
	return prices, nil
}

func (s *OrderService) publishCreated(ctx context.Context, view *OrderView) {
	items := make([]models.OrderItemData, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     view.ID,
		AccountID:   view.AccountID,
		TotalAmount: view.TotalAmount,
		Items:       items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", view.ID), zap.Error(err))
	}
}

func (s *OrderService) publishFailed(ctx context.Context, orderID int64, reason string) {
	event := &models.OrderFailedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderFailed),
		OrderID:   orderID,
		Reason:    reason,
	}
	if err := s.publisher.PublishOrderFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderFailed event", zap.Int64("order_id", orderID), zap.Error(err))
	}
}
