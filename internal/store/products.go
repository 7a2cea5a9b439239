package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const inventoryColumns = "product_id, available, frozen, updated_at"

const productSelect = `SELECT p.id, p.title, p.price, p.cover, p.shop_id, s.owner_id AS shop_owner_id, p.created_at
	FROM products p JOIN shops s ON s.id = p.shop_id`

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product, productSelect+" WHERE p.id = $1", id)
	if err != nil {
		return nil, notFound(err, apperr.ErrProductNotFound, id)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(productSelect+" WHERE p.id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.q.Rebind(query)

	var products []models.Product
	err = s.q.SelectContext(ctx, &products, query, args...)
	return products, err
}

// ListInventory retrieves every stock row
func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	var rows []models.Inventory
	err := s.q.SelectContext(ctx, &rows,
		"SELECT "+inventoryColumns+" FROM inventory ORDER BY product_id")
	return rows, err
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.q.GetContext(ctx, &inv,
		"SELECT "+inventoryColumns+" FROM inventory WHERE product_id = $1", productID)
	if err != nil {
		return nil, notFound(err, apperr.ErrProductNotFound, productID)
	}
	return &inv, nil
}

// DeductStock is a single conditional decrement; the row lock taken by the
// UPDATE serializes concurrent deductions of the same product, so
// clock_timestamp() grows with every write to the row
func (s *Store) DeductStock(ctx context.Context, productID int64, quantity int) (*models.Inventory, error) {
	if quantity <= 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}

	var inv models.Inventory
	err := s.q.GetContext(ctx, &inv,
		"UPDATE inventory SET available = available - $1, updated_at = clock_timestamp() WHERE product_id = $2 AND available >= $1 RETURNING "+inventoryColumns,
		quantity, productID)
	if err == nil {
		return &inv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to deduct stock for product %d: %w", productID, err)
	}

	found, err := s.exists(ctx, "SELECT EXISTS(SELECT 1 FROM inventory WHERE product_id = $1)", productID)
	if err != nil {
		return nil, fmt.Errorf("failed to check inventory for product %d: %w", productID, err)
	}
	if !found {
		return nil, apperr.ErrProductNotFound.WithDetail("id %d", productID)
	}
	return nil, apperr.ErrOutOfStock.WithDetail("product %d, requested %d", productID, quantity)
}

// Restock adds delta units of available stock
func (s *Store) Restock(ctx context.Context, productID int64, delta int) (*models.Inventory, error) {
	if delta <= 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("delta must be > 0")
	}

	var inv models.Inventory
	err := s.q.GetContext(ctx, &inv,
		"UPDATE inventory SET available = available + $1, updated_at = clock_timestamp() WHERE product_id = $2 RETURNING "+inventoryColumns,
		delta, productID)
	if err != nil {
		return nil, notFound(err, apperr.ErrProductNotFound, productID)
	}
	return &inv, nil
}
