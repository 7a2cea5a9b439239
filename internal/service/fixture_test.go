package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	buyerID     int64 = 100
	otherBuyer  int64 = 200
	shopOwnerID int64 = 9
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.NotificationEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, toAccountID int64, kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, models.NotificationEvent{ToAccountID: toAccountID, Kind: kind})
	return nil
}

func (n *recordingNotifier) all() []models.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.NotificationEvent(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	faults []models.SettlementFaultEvent
}

func (p *recordingPublisher) record(eventType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderFailed(ctx context.Context, e *models.OrderFailedEvent) error {
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) PublishSettlementFault(ctx context.Context, e *models.SettlementFaultEvent) error {
	p.mu.Lock()
	p.faults = append(p.faults, *e)
	p.mu.Unlock()
	p.record(e.EventType)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RequestPayment(ctx context.Context, req payment.Request) (*payment.Form, error) {
	args := m.Called(ctx, req)
	form, _ := args.Get(0).(*payment.Form)
	return form, args.Error(1)
}

func (m *mockGateway) ParseAndAuthenticate(values url.Values) (*payment.Notification, error) {
	args := m.Called(values)
	n, _ := args.Get(0).(*payment.Notification)
	return n, args.Error(1)
}

// mapCache keeps the newest version per product, like the redis mirror
type mapCache struct {
	mu       sync.Mutex
	stock    map[int64]int
	versions map[int64]int64
}

func newMapCache() *mapCache {
	return &mapCache{stock: map[int64]int{}, versions: map[int64]int64{}}
}

func (c *mapCache) SetStock(ctx context.Context, productID int64, available int, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.versions[productID]; ok && current > version {
		return nil
	}
	c.stock[productID] = available
	c.versions[productID] = version
	return nil
}

func (c *mapCache) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stock[productID]
	return v, ok, nil
}

type fixture struct {
	repo       *memory.Store
	inventory  *InventoryLedger
	cart       *CartService
	coupons    *CouponService
	orders     *OrderService
	reconciler *Reconciler
	payments   *PaymentService
	notifier   *recordingNotifier
	publisher  *recordingPublisher
	gateway    *mockGateway
	product    models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memory.NewStore()
	f := &fixture{
		repo:      repo,
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		gateway:   &mockGateway{},
	}
	deps := Deps{Notifier: f.notifier, Publisher: f.publisher}

	f.inventory = NewInventoryLedger(repo, deps, 3)
	f.cart = NewCartService(repo, f.inventory)
	f.coupons = NewCouponService(repo)
	f.orders = NewOrderService(repo, f.coupons, deps)
	f.reconciler = NewReconciler(repo, f.orders, f.inventory, f.cart, deps, time.Second)
	f.payments = NewPaymentService(repo, f.gateway, f.reconciler, 50*time.Millisecond)

	f.product = repo.AddProduct(models.Product{Title: "Tomato", Price: 1000, ShopOwnerID: shopOwnerID}, 5)
	return f
}

// checkout adds quantity of the fixture product to buyer's cart and checks it out
func (f *fixture) checkout(t *testing.T, quantity int) *OrderView {
	t.Helper()
	ctx := context.Background()

	item, err := f.cart.Add(ctx, buyerID, f.product.ID, quantity)
	require.NoError(t, err)

	order, err := f.orders.Checkout(ctx, CheckoutRequest{AccountID: buyerID, CartItemIDs: []int64{item.ID}})
	require.NoError(t, err)
	return order
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	inv, err := f.repo.GetInventory(context.Background(), f.product.ID)
	require.NoError(t, err)
	return inv.Available
}

func (f *fixture) status(t *testing.T, orderID int64) models.OrderStatus {
	t.Helper()
	order, err := f.repo.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func paidNotification(orderID int64, amount string) *payment.Notification {
	return &payment.Notification{
		MerchantReference: fmt.Sprint(orderID),
		OrderID:           orderID,
		TradeNo:           fmt.Sprintf("T%d", orderID),
		NotifyID:          fmt.Sprintf("notify-%d", orderID),
		Amount:            decimal.RequireFromString(amount),
		Status:            payment.TradeSuccess,
	}
}
