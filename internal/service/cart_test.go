package service

import (
	"context"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_AddChecksStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cart.Add(ctx, buyerID, f.product.ID, 6)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)

	_, err = f.cart.Add(ctx, buyerID, f.product.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.cart.Add(ctx, buyerID, 404, 1)
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	item, err := f.cart.Add(ctx, buyerID, f.product.ID, 5)
	require.NoError(t, err)
	assert.NotZero(t, item.ID)
}

func TestCart_ListOrderedWithTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.repo.AddProduct(models.Product{Title: "Basil", Price: 250, ShopOwnerID: shopOwnerID}, 20)

	_, err := f.cart.Add(ctx, buyerID, f.product.ID, 2)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, buyerID, other.ID, 4)
	require.NoError(t, err)
	_, err = f.cart.Add(ctx, otherBuyer, other.ID, 1)
	require.NoError(t, err)

	view, err := f.cart.List(ctx, buyerID)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "Tomato", view.Items[0].Title)
	assert.Equal(t, "Basil", view.Items[1].Title)
	assert.Equal(t, int64(2*1000+4*250), view.Total)
}

func TestCart_SetQuantityAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.cart.Add(ctx, buyerID, f.product.ID, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, f.cart.SetQuantity(ctx, buyerID, item.ID, 9), apperr.ErrOutOfStock)
	assert.ErrorIs(t, f.cart.SetQuantity(ctx, otherBuyer, item.ID, 2), apperr.ErrCartItemNotFound)
	require.NoError(t, f.cart.SetQuantity(ctx, buyerID, item.ID, 4))

	got, err := f.repo.GetCartItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity)

	assert.ErrorIs(t, f.cart.Remove(ctx, otherBuyer, item.ID), apperr.ErrCartItemNotFound)
	require.NoError(t, f.cart.Remove(ctx, buyerID, item.ID))
	assert.ErrorIs(t, f.cart.Remove(ctx, buyerID, item.ID), apperr.ErrCartItemNotFound)
}

func TestInventory_MirrorAndAlerts(t *testing.T) {
	repo := memory.NewStore()
	cache := newMapCache()
	notifier := &recordingNotifier{}
	ledger := NewInventoryLedger(repo, Deps{Cache: cache, Notifier: notifier}, 10)
	ctx := context.Background()

	p := repo.AddProduct(models.Product{Title: "Pepper", Price: 100, ShopOwnerID: 77}, 12)
	require.NoError(t, ledger.SyncCache(ctx))

	available, err := ledger.Available(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, available)

	require.NoError(t, ledger.ReserveOrDeduct(ctx, p.ID, 1))
	assert.Empty(t, notifier.all())

	require.NoError(t, ledger.ReserveOrDeduct(ctx, p.ID, 2))
	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(77), sent[0].ToAccountID)

	assert.ErrorIs(t, ledger.ReserveOrDeduct(ctx, p.ID, 10), apperr.ErrOutOfStock)

	// the mirror follows the ledger
	available, err = ledger.Available(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, available)

	restocked, err := ledger.Restock(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 14, restocked)
	assert.Equal(t, 14, cache.stock[p.ID])

	_, err = ledger.Restock(ctx, p.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestInventory_LateMirrorUpdateIsIgnored(t *testing.T) {
	repo := memory.NewStore()
	cache := newMapCache()
	ledger := NewInventoryLedger(repo, Deps{Cache: cache}, 0)
	ctx := context.Background()
	p := repo.AddProduct(models.Product{Title: "Basil", Price: 300, ShopOwnerID: 77}, 10)

	first, err := ledger.Deduct(ctx, repo, p.ID, 2)
	require.NoError(t, err)
	second, err := ledger.Deduct(ctx, repo, p.ID, 3)
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)

	// post-commit steps finish in reverse order
	ledger.AfterDeduct(ctx, []Deduction{second})
	ledger.AfterDeduct(ctx, []Deduction{first})

	available, err := ledger.Available(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, available)

	inv, err := repo.GetInventory(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.UpdatedAt.UnixNano(), cache.versions[p.ID])
}
