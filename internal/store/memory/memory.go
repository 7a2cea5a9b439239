// Package memory is an in-process Repository used for local runs and tests.
// A single mutex serializes every operation; RunInTx holds it for the whole
// unit of work and restores a snapshot when fn fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
)

type balanceKey struct {
	accountID int64
	couponID  int64
}

type state struct {
	seq           map[string]int64
	products      map[int64]models.Product
	inventory     map[int64]models.Inventory
	cartItems     map[int64]models.CartItem
	coupons       map[int64]models.Coupon
	balances      map[balanceKey]int
	orders        map[int64]models.Order
	orderItems    map[int64][]models.OrderItem
	relations     map[int64][]int64
	payments      []models.Payment
	notifications map[string]int64
	messages      []models.Message
}

func newState() *state {
	return &state{
		seq:           make(map[string]int64),
		products:      make(map[int64]models.Product),
		inventory:     make(map[int64]models.Inventory),
		cartItems:     make(map[int64]models.CartItem),
		coupons:       make(map[int64]models.Coupon),
		balances:      make(map[balanceKey]int),
		orders:        make(map[int64]models.Order),
		orderItems:    make(map[int64][]models.OrderItem),
		relations:     make(map[int64][]int64),
		notifications: make(map[string]int64),
	}
}

func (st *state) clone() *state {
	cp := newState()
	for k, v := range st.seq {
		cp.seq[k] = v
	}
	for k, v := range st.products {
		cp.products[k] = v
	}
	for k, v := range st.inventory {
		cp.inventory[k] = v
	}
	for k, v := range st.cartItems {
		cp.cartItems[k] = v
	}
	for k, v := range st.coupons {
		cp.coupons[k] = v
	}
	for k, v := range st.balances {
		cp.balances[k] = v
	}
	for k, v := range st.orders {
		cp.orders[k] = cloneOrder(v)
	}
	for k, v := range st.orderItems {
		cp.orderItems[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range st.relations {
		cp.relations[k] = append([]int64(nil), v...)
	}
	for k, v := range st.notifications {
		cp.notifications[k] = v
	}
	cp.payments = append([]models.Payment(nil), st.payments...)
	cp.messages = append([]models.Message(nil), st.messages...)
	return cp
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

type db struct {
	mu sync.Mutex
	st *state
}

// Store is the in-memory Repository
type Store struct {
	db   *db
	inTx bool
}

var _ store.Repository = (*Store)(nil)

func NewStore() *Store {
	return &Store{db: &db{st: newState()}}
}

// lock is a no-op inside RunInTx, which already holds the mutex
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.db.mu.Lock()
	return s.db.mu.Unlock
}

// RunInTx runs fn with exclusive access and rolls back on error
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repo store.Repository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := s.db.st.clone()
	if err := fn(ctx, &Store{db: s.db, inTx: true}); err != nil {
		s.db.st = snapshot
		return err
	}
	return nil
}

// AddProduct lists a product with its initial stock. The catalog is owned
// elsewhere; this seeds the local copy.
func (s *Store) AddProduct(product models.Product, available int) models.Product {
	defer s.lock()()

	st := s.db.st
	if product.ID == 0 {
		product.ID = st.next("products")
	} else if product.ID > st.seq["products"] {
		st.seq["products"] = product.ID
	}
	if product.ShopID == 0 {
		product.ShopID = product.ShopOwnerID
	}
	product.CreatedAt = time.Now()
	st.products[product.ID] = product
	st.inventory[product.ID] = models.Inventory{
		ProductID: product.ID,
		Available: available,
		UpdatedAt: product.CreatedAt,
	}
	return product
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	defer s.lock()()

	p, ok := s.db.st.products[id]
	if !ok {
		return nil, apperr.ErrProductNotFound.WithDetail("id %d", id)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	defer s.lock()()

	products := []models.Product{}
	for _, id := range ids {
		if p, ok := s.db.st.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (s *Store) ListInventory(ctx context.Context) ([]models.Inventory, error) {
	defer s.lock()()

	rows := make([]models.Inventory, 0, len(s.db.st.inventory))
	for _, inv := range s.db.st.inventory {
		rows = append(rows, inv)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductID < rows[j].ProductID })
	return rows, nil
}

func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	defer s.lock()()

	inv, ok := s.db.st.inventory[productID]
	if !ok {
		return nil, apperr.ErrProductNotFound.WithDetail("id %d", productID)
	}
	return &inv, nil
}

// DeductStock compares and decrements under the store mutex
func (s *Store) DeductStock(ctx context.Context, productID int64, quantity int) (*models.Inventory, error) {
	if quantity <= 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("quantity must be > 0")
	}
	defer s.lock()()

	inv, ok := s.db.st.inventory[productID]
	if !ok {
		return nil, apperr.ErrProductNotFound.WithDetail("id %d", productID)
	}
	if inv.Available < quantity {
		return nil, apperr.ErrOutOfStock.WithDetail("product %d, requested %d", productID, quantity)
	}
	inv.Available -= quantity
	s.touch(&inv)
	return &inv, nil
}

func (s *Store) Restock(ctx context.Context, productID int64, delta int) (*models.Inventory, error) {
	if delta <= 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("delta must be > 0")
	}
	defer s.lock()()

	inv, ok := s.db.st.inventory[productID]
	if !ok {
		return nil, apperr.ErrProductNotFound.WithDetail("id %d", productID)
	}
	inv.Available += delta
	s.touch(&inv)
	return &inv, nil
}

// touch stores inv with an UpdatedAt strictly after its previous write
func (s *Store) touch(inv *models.Inventory) {
	now := time.Now()
	if !now.After(inv.UpdatedAt) {
		now = inv.UpdatedAt.Add(time.Nanosecond)
	}
	inv.UpdatedAt = now
	s.db.st.inventory[inv.ProductID] = *inv
}

func (s *Store) CreateCartItem(ctx context.Context, item *models.CartItem) error {
	defer s.lock()()

	item.ID = s.db.st.next("cart_items")
	item.CreatedAt = time.Now()
	s.db.st.cartItems[item.ID] = *item
	return nil
}

func (s *Store) GetCartItem(ctx context.Context, id int64) (*models.CartItem, error) {
	defer s.lock()()

	item, ok := s.db.st.cartItems[id]
	if !ok {
		return nil, apperr.ErrCartItemNotFound.WithDetail("id %d", id)
	}
	return &item, nil
}

func (s *Store) GetCartItemsByIDs(ctx context.Context, ids []int64) ([]models.CartItem, error) {
	defer s.lock()()

	items := []models.CartItem{}
	for _, id := range ids {
		if item, ok := s.db.st.cartItems[id]; ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) ListCartLines(ctx context.Context, accountID int64) ([]models.CartLine, error) {
	defer s.lock()()

	lines := []models.CartLine{}
	for _, item := range s.db.st.cartItems {
		if item.AccountID != accountID {
			continue
		}
		p, ok := s.db.st.products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{CartItem: item, Title: p.Title, Price: p.Price, Cover: p.Cover})
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, id int64, quantity int) error {
	defer s.lock()()

	item, ok := s.db.st.cartItems[id]
	if !ok {
		return apperr.ErrCartItemNotFound.WithDetail("id %d", id)
	}
	item.Quantity = quantity
	s.db.st.cartItems[id] = item
	return nil
}

func (s *Store) DeleteCartItems(ctx context.Context, ids []int64) (int64, error) {
	defer s.lock()()

	var n int64
	for _, id := range ids {
		if _, ok := s.db.st.cartItems[id]; ok {
			delete(s.db.st.cartItems, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	defer s.lock()()

	coupon.ID = s.db.st.next("coupons")
	coupon.CreatedAt = time.Now()
	s.db.st.coupons[coupon.ID] = *coupon
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	defer s.lock()()

	c, ok := s.db.st.coupons[id]
	if !ok {
		return nil, apperr.ErrCouponNotFound.WithDetail("id %d", id)
	}
	return &c, nil
}

func (s *Store) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	defer s.lock()()

	coupons := make([]models.Coupon, 0, len(s.db.st.coupons))
	for _, c := range s.db.st.coupons {
		coupons = append(coupons, c)
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].ID < coupons[j].ID })
	return coupons, nil
}

func (s *Store) IssueCoupon(ctx context.Context, couponID int64, quantity int) error {
	defer s.lock()()

	c, ok := s.db.st.coupons[couponID]
	if !ok {
		return apperr.ErrCouponNotFound.WithDetail("id %d", couponID)
	}
	if c.Remaining() < quantity {
		return apperr.ErrCouponExhausted.WithDetail("coupon %d, requested %d", couponID, quantity)
	}
	c.UsedQuantity += quantity
	s.db.st.coupons[couponID] = c
	return nil
}

func (s *Store) AddCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error {
	defer s.lock()()

	s.db.st.balances[balanceKey{accountID, couponID}] += quantity
	return nil
}

func (s *Store) ConsumeCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error {
	defer s.lock()()

	key := balanceKey{accountID, couponID}
	remaining, ok := s.db.st.balances[key]
	if !ok || remaining < quantity {
		return apperr.ErrInsufficientBalance.WithDetail("account %d, coupon %d", accountID, couponID)
	}
	s.db.st.balances[key] = remaining - quantity
	return nil
}

func (s *Store) ListCouponBalances(ctx context.Context, accountID int64) ([]models.AccountCouponBalance, error) {
	defer s.lock()()

	balances := []models.AccountCouponBalance{}
	for key, remaining := range s.db.st.balances {
		if key.accountID == accountID {
			balances = append(balances, models.AccountCouponBalance{
				AccountID:         accountID,
				CouponID:          key.couponID,
				RemainingQuantity: remaining,
			})
		}
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].CouponID < balances[j].CouponID })
	return balances, nil
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	defer s.lock()()

	now := time.Now()
	order.ID = s.db.st.next("orders")
	order.CreatedAt = now
	order.UpdatedAt = now
	s.db.st.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	defer s.lock()()

	if _, ok := s.db.st.orders[item.OrderID]; !ok {
		return apperr.ErrOrderNotFound.WithDetail("id %d", item.OrderID)
	}
	item.ID = s.db.st.next("order_items")
	s.db.st.orderItems[item.OrderID] = append(s.db.st.orderItems[item.OrderID], *item)
	return nil
}

func (s *Store) LinkCartItems(ctx context.Context, orderID int64, cartItemIDs []int64) error {
	defer s.lock()()

	s.db.st.relations[orderID] = append(s.db.st.relations[orderID], cartItemIDs...)
	return nil
}

func (s *Store) GetLinkedCartItemIDs(ctx context.Context, orderID int64) ([]int64, error) {
	defer s.lock()()

	ids := append([]int64{}, s.db.st.relations[orderID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	defer s.lock()()

	order, ok := s.db.st.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound.WithDetail("id %d", id)
	}
	cp := cloneOrder(order)
	return &cp, nil
}

// GetOrderForUpdate is GetOrderByID; the transaction already holds the mutex
func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrderByID(ctx, id)
}

func (s *Store) ListOrdersByAccount(ctx context.Context, accountID int64) ([]models.Order, error) {
	defer s.lock()()

	orders := []models.Order{}
	for _, o := range s.db.st.orders {
		if o.AccountID == accountID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	defer s.lock()()

	return append([]models.OrderItem{}, s.db.st.orderItems[orderID]...), nil
}

func (s *Store) TransitionOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, apperr.ErrInvalidArgument.WithDetail("transition %s -> %s", from, to)
	}
	defer s.lock()()

	order, ok := s.db.st.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = time.Now()
	s.db.st.orders[id] = order
	return true, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	defer s.lock()()

	s.createPayment(payment)
	return nil
}

func (s *Store) createPayment(payment *models.Payment) {
	now := time.Now()
	payment.ID = s.db.st.next("payments")
	payment.CreatedAt = now
	payment.UpdatedAt = now
	s.db.st.payments = append(s.db.st.payments, *payment)
}

func (s *Store) latestPayment(orderID int64) int {
	for i := len(s.db.st.payments) - 1; i >= 0; i-- {
		if s.db.st.payments[i].OrderID == orderID {
			return i
		}
	}
	return -1
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	defer s.lock()()

	i := s.latestPayment(orderID)
	if i < 0 {
		return nil, nil
	}
	p := s.db.st.payments[i]
	return &p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, amount int64, status, providerTxID string) error {
	defer s.lock()()

	i := s.latestPayment(orderID)
	if i < 0 {
		s.createPayment(&models.Payment{OrderID: orderID, Status: status, ProviderTxID: providerTxID, Amount: amount})
		return nil
	}
	p := &s.db.st.payments[i]
	p.Status = status
	p.ProviderTxID = providerTxID
	p.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkNotificationProcessed(ctx context.Context, notifyID string, orderID int64) (bool, error) {
	defer s.lock()()

	if _, seen := s.db.st.notifications[notifyID]; seen {
		return false, nil
	}
	s.db.st.notifications[notifyID] = orderID
	return true, nil
}

func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	defer s.lock()()

	if msg.EventID != "" {
		for _, m := range s.db.st.messages {
			if m.EventID == msg.EventID {
				return false, nil
			}
		}
	}
	msg.ID = s.db.st.next("messages")
	msg.CreatedAt = time.Now()
	s.db.st.messages = append(s.db.st.messages, *msg)
	return true, nil
}

func (s *Store) ListMessages(ctx context.Context, accountID int64) ([]models.Message, error) {
	defer s.lock()()

	messages := []models.Message{}
	for i := len(s.db.st.messages) - 1; i >= 0; i-- {
		if m := s.db.st.messages[i]; m.ToAccountID == accountID {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func cloneOrder(o models.Order) models.Order {
	if o.CouponID != nil {
		id := *o.CouponID
		o.CouponID = &id
	}
	return o
}
