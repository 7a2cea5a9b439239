package store

import (
	"context"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const orderColumns = "id, account_id, total_amount, payment_method, status, coupon_id, created_at, updated_at"

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (account_id, total_amount, payment_method, status, coupon_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.q.GetContext(ctx, order, query,
		order.AccountID, order.TotalAmount, order.PaymentMethod, string(order.Status), order.CouponID)
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.q.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
}

// LinkCartItems records which cart items an order will drain on settlement
func (s *Store) LinkCartItems(ctx context.Context, orderID int64, cartItemIDs []int64) error {
	for _, id := range cartItemIDs {
		if _, err := s.q.ExecContext(ctx,
			"INSERT INTO cart_order_relations (order_id, cart_item_id) VALUES ($1, $2)",
			orderID, id); err != nil {
			return fmt.Errorf("failed to link cart item %d to order %d: %w", id, orderID, err)
		}
	}
	return nil
}

// GetLinkedCartItemIDs retrieves the cart items checked out by an order
func (s *Store) GetLinkedCartItemIDs(ctx context.Context, orderID int64) ([]int64, error) {
	ids := []int64{}
	err := s.q.SelectContext(ctx, &ids,
		"SELECT cart_item_id FROM cart_order_relations WHERE order_id = $1 ORDER BY cart_item_id", orderID)
	return ids, err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.ErrOrderNotFound, id)
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order and locks its row for the transaction
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, apperr.ErrOrderNotFound, id)
	}
	return &order, nil
}

// ListOrdersByAccount retrieves orders for an account
func (s *Store) ListOrdersByAccount(ctx context.Context, accountID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.q.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE account_id = $1 ORDER BY created_at DESC, id DESC", accountID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.q.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// TransitionOrderStatus moves an order from one status to another atomically
func (s *Store) TransitionOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, apperr.ErrInvalidArgument.WithDetail("transition %s -> %s", from, to)
	}

	res, err := s.q.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update order %d status: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
