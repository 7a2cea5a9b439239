package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Deduction is the stock left after a committed deduction. Version is the
// ledger's write time and orders mirror updates.
type Deduction struct {
	ProductID int64
	Remaining int
	Version   int64
}

// InventoryLedger owns available stock per product
type InventoryLedger struct {
	repo              store.Repository
	cache             StockCache
	notifier          Notifier
	lowStockThreshold int
	logger            *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(repo store.Repository, deps Deps, lowStockThreshold int) *InventoryLedger {
	deps = deps.withDefaults()
	return &InventoryLedger{
		repo:              repo,
		cache:             deps.Cache,
		notifier:          deps.Notifier,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// ReserveOrDeduct takes quantity units from the product in one atomic step
func (l *InventoryLedger) ReserveOrDeduct(ctx context.Context, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveOrDeduct", attribute.Int64("product_id", productID))
	defer span.End()

	d, err := l.Deduct(ctx, l.repo, productID, quantity)
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	l.AfterDeduct(ctx, []Deduction{d})
	return nil
}

// Deduct runs the deduction on repo so callers can make it part of their
// unit of work. Side effects wait for AfterDeduct.
func (l *InventoryLedger) Deduct(ctx context.Context, repo store.Repository, productID int64, quantity int) (Deduction, error) {
	inv, err := repo.DeductStock(ctx, productID, quantity)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrOutOfStock):
			util.StockDeductionsFailed.WithLabelValues("out_of_stock").Inc()
		case errors.Is(err, apperr.ErrProductNotFound):
			util.StockDeductionsFailed.WithLabelValues("not_found").Inc()
		default:
			util.StockDeductionsFailed.WithLabelValues("error").Inc()
		}
		return Deduction{}, err
	}
	return Deduction{ProductID: productID, Remaining: inv.Available, Version: inv.UpdatedAt.UnixNano()}, nil
}

// AfterDeduct refreshes the mirror and raises low-stock alerts for
// deductions that are already durable. Failures are only logged.
func (l *InventoryLedger) AfterDeduct(ctx context.Context, deductions []Deduction) {
	for _, d := range deductions {
		l.mirror(ctx, d.ProductID, d.Remaining, d.Version)

		if d.Remaining >= l.lowStockThreshold {
			continue
		}
		product, err := l.repo.GetProduct(ctx, d.ProductID)
		if err != nil {
			l.logger.Warn("Low stock alert skipped, product lookup failed",
				zap.Int64("product_id", d.ProductID), zap.Error(err))
			continue
		}
		if err := l.notifier.Notify(ctx, product.ShopOwnerID, models.MessageKindLowInventory); err != nil {
			l.logger.Warn("Failed to send low stock alert",
				zap.Int64("product_id", d.ProductID),
				zap.Int64("shop_owner_id", product.ShopOwnerID),
				zap.Error(err))
			continue
		}
		util.LowStockAlertsTotal.Inc()
		l.logger.Info("Low stock alert sent",
			zap.Int64("product_id", d.ProductID),
			zap.Int("remaining", d.Remaining))
	}
}

// Restock adds delta units to a product
func (l *InventoryLedger) Restock(ctx context.Context, productID int64, delta int) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Restock", attribute.Int64("product_id", productID))
	defer span.End()

	inv, err := l.repo.Restock(ctx, productID, delta)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	l.mirror(ctx, productID, inv.Available, inv.UpdatedAt.UnixNano())
	l.logger.Info("Product restocked",
		zap.Int64("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("available", inv.Available))
	return inv.Available, nil
}

// Available is an advisory read: the mirror first, the ledger on a miss
func (l *InventoryLedger) Available(ctx context.Context, productID int64) (int, error) {
	available, ok, err := l.cache.GetStock(ctx, productID)
	if err != nil {
		l.logger.Warn("Stock mirror read failed", zap.Int64("product_id", productID), zap.Error(err))
	}
	if err == nil && ok {
		return available, nil
	}

	inv, err := l.repo.GetInventory(ctx, productID)
	if err != nil {
		return 0, err
	}
	l.mirror(ctx, productID, inv.Available, inv.UpdatedAt.UnixNano())
	return inv.Available, nil
}

// SyncCache copies every stock row into the mirror
func (l *InventoryLedger) SyncCache(ctx context.Context) error {
	rows, err := l.repo.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}
	for _, inv := range rows {
		if err := l.cache.SetStock(ctx, inv.ProductID, inv.Available, inv.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to mirror stock for product %d: %w", inv.ProductID, err)
		}
	}
	l.logger.Info("Stock mirror synced", zap.Int("products", len(rows)))
	return nil
}

func (l *InventoryLedger) mirror(ctx context.Context, productID int64, available int, version int64) {
	if err := l.cache.SetStock(ctx, productID, available, version); err != nil {
		l.logger.Warn("Failed to refresh stock mirror", zap.Int64("product_id", productID), zap.Error(err))
	}
}
