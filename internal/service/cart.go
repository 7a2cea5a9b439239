package service

import (
	"context"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartView is an account's cart with display data and the running total
type CartView struct {
	Items []models.CartLine `json:"items"`
	Total int64             `json:"total_amount"`
}

// CartService manages the per-account list of selections pending purchase
type CartService struct {
	repo      store.Repository
	inventory *InventoryLedger
	logger    *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository, inventory *InventoryLedger) *CartService {
	return &CartService{
		repo:      repo,
		inventory: inventory,
		logger:    util.GetLogger(),
	}
}

// Add puts a product in the cart. The stock check is advisory; settlement
// checks again.
func (s *CartService) Add(ctx context.Context, accountID, productID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Add",
		attribute.Int64("account_id", accountID), attribute.Int64("product_id", productID))
	defer span.End()

	if quantity <= 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	if err := s.checkStock(ctx, productID, quantity); err != nil {
		return nil, err
	}

	item := &models.CartItem{AccountID: accountID, ProductID: productID, Quantity: quantity}
	if err := s.repo.CreateCartItem(ctx, item); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Cart item added",
		zap.Int64("account_id", accountID),
		zap.Int64("cart_item_id", item.ID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return item, nil
}

// Remove deletes one of the account's cart items
func (s *CartService) Remove(ctx context.Context, accountID, cartItemID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Remove", attribute.Int64("cart_item_id", cartItemID))
	defer span.End()

	if _, err := s.owned(ctx, accountID, cartItemID); err != nil {
		return err
	}
	n, err := s.repo.DeleteCartItems(ctx, []int64{cartItemID})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrCartItemNotFound.WithDetail("id %d", cartItemID)
	}
	return nil
}

// SetQuantity changes a cart item's quantity after re-checking stock
func (s *CartService) SetQuantity(ctx context.Context, accountID, cartItemID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartService.SetQuantity", attribute.Int64("cart_item_id", cartItemID))
	defer span.End()

	if quantity <= 0 {
		return apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}
	item, err := s.owned(ctx, accountID, cartItemID)
	if err != nil {
		return err
	}
	if err := s.checkStock(ctx, item.ProductID, quantity); err != nil {
		return err
	}
	return s.repo.UpdateCartItemQuantity(ctx, cartItemID, quantity)
}

// List returns the cart in insertion order with its total
func (s *CartService) List(ctx context.Context, accountID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.List", attribute.Int64("account_id", accountID))
	defer span.End()

	lines, err := s.repo.ListCartLines(ctx, accountID)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: lines}
	for _, line := range lines {
		view.Total += line.Price * int64(line.Quantity)
	}
	return view, nil
}

// Purge drains cart items on repo. Only settlement calls it; items the buyer
// already removed are skipped.
func (s *CartService) Purge(ctx context.Context, repo store.Repository, cartItemIDs []int64) (int64, error) {
	return repo.DeleteCartItems(ctx, cartItemIDs)
}

func (s *CartService) owned(ctx context.Context, accountID, cartItemID int64) (*models.CartItem, error) {
	item, err := s.repo.GetCartItem(ctx, cartItemID)
	if err != nil {
		return nil, err
	}
	if item.AccountID != accountID {
		return nil, apperr.ErrCartItemNotFound.WithDetail("id %d", cartItemID)
	}
	return item, nil
}

func (s *CartService) checkStock(ctx context.Context, productID int64, quantity int) error {
	available, err := s.inventory.Available(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > available {
		return apperr.ErrOutOfStock.WithDetail("product %d, requested %d, available %d", productID, quantity, available)
	}
	return nil
}
