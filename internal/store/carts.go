package store

import (
	"context"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// CreateCartItem inserts a cart item
func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	return s.q.GetContext(ctx, item,
		"INSERT INTO cart_items (account_id, product_id, quantity) VALUES ($1, $2, $3) RETURNING id, created_at",
		item.AccountID, item.ProductID, item.Quantity)
}

// GetCartItem retrieves a cart item by ID
func (s *Store) GetCartItem(ctx context.Context, id int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.q.GetContext(ctx, &item,
		"SELECT id, account_id, product_id, quantity, created_at FROM cart_items WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.ErrCartItemNotFound, id)
	}
	return &item, nil
}

// GetCartItemsByIDs retrieves the cart items that still exist among ids
func (s *Store) GetCartItemsByIDs(ctx context.Context, ids []int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	if len(ids) == 0 {
		return items, nil
	}
	err := s.q.SelectContext(ctx, &items,
		"SELECT id, account_id, product_id, quantity, created_at FROM cart_items WHERE id = ANY($1) ORDER BY id",
		int64Array(ids))
	return items, err
}

// ListCartLines returns an account's cart joined with product display data
func (s *Store) ListCartLines(ctx context.Context, accountID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := s.q.SelectContext(ctx, &lines, `
		SELECT c.id, c.account_id, c.product_id, c.quantity, c.created_at, p.title, p.price, p.cover
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.account_id = $1
		ORDER BY c.created_at, c.id`, accountID)
	return lines, err
}

// UpdateCartItemQuantity sets the quantity of a cart item
func (s *Store) UpdateCartItemQuantity(ctx context.Context, id int64, quantity int) error {
	res, err := s.q.ExecContext(ctx, "UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, id)
	if err != nil {
		return fmt.Errorf("failed to update cart item %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrCartItemNotFound.WithDetail("id %d", id)
	}
	return nil
}

// DeleteCartItems removes cart items and reports how many existed
func (s *Store) DeleteCartItems(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.q.ExecContext(ctx, "DELETE FROM cart_items WHERE id = ANY($1)", int64Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete cart items: %w", err)
	}
	return rowsAffected(res)
}
