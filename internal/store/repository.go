package store

import (
	"context"

	"checkout-service/internal/models"
)

// ProductRepository is the catalog lookup plus the stock ledger rows
type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListInventory(ctx context.Context) ([]models.Inventory, error)
	GetInventory(ctx context.Context, productID int64) (*models.Inventory, error)
	// DeductStock decrements available stock only if enough is left and
	// returns the updated row. UpdatedAt orders writes to the same product.
	DeductStock(ctx context.Context, productID int64, quantity int) (*models.Inventory, error)
	Restock(ctx context.Context, productID int64, delta int) (*models.Inventory, error)
}

type CartRepository interface {
	CreateCartItem(ctx context.Context, item *models.CartItem) error
	GetCartItem(ctx context.Context, id int64) (*models.CartItem, error)
	GetCartItemsByIDs(ctx context.Context, ids []int64) ([]models.CartItem, error)
	ListCartLines(ctx context.Context, accountID int64) ([]models.CartLine, error)
	UpdateCartItemQuantity(ctx context.Context, id int64, quantity int) error
	DeleteCartItems(ctx context.Context, ids []int64) (int64, error)
}

type CouponRepository interface {
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	GetCoupon(ctx context.Context, id int64) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	// IssueCoupon moves quantity units out of the coupon's issuance pool.
	IssueCoupon(ctx context.Context, couponID int64, quantity int) error
	AddCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error
	ConsumeCouponBalance(ctx context.Context, accountID, couponID int64, quantity int) error
	ListCouponBalances(ctx context.Context, accountID int64) ([]models.AccountCouponBalance, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	LinkCartItems(ctx context.Context, orderID int64, cartItemIDs []int64) error
	GetLinkedCartItemIDs(ctx context.Context, orderID int64) ([]int64, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	// GetOrderForUpdate reads the order and holds it until the surrounding
	// transaction ends.
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByAccount(ctx context.Context, accountID int64) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	// TransitionOrderStatus is a compare-and-set on status; false means the
	// order was not in from.
	TransitionOrderStatus(ctx context.Context, id int64, from, to models.OrderStatus) (bool, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, orderID, amount int64, status, providerTxID string) error
	// MarkNotificationProcessed returns false when notifyID was already recorded.
	MarkNotificationProcessed(ctx context.Context, notifyID string, orderID int64) (bool, error)
}

type MessageRepository interface {
	// CreateMessage returns false when msg.EventID was already delivered.
	CreateMessage(ctx context.Context, msg *models.Message) (bool, error)
	ListMessages(ctx context.Context, accountID int64) ([]models.Message, error)
}

// Repository is everything the services persist, plus a unit of work.
type Repository interface {
	ProductRepository
	CartRepository
	CouponRepository
	OrderRepository
	PaymentRepository
	MessageRepository

	// RunInTx runs fn in one transaction. fn must use the repository it is
	// given; a non-nil error rolls everything back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
