package models

import "time"

// Product is the read-only catalog view used to snapshot prices and route alerts
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Price       int64     `db:"price" json:"price"`
	Cover       string    `db:"cover" json:"cover"`
	ShopID      int64     `db:"shop_id" json:"shop_id"`
	ShopOwnerID int64     `db:"shop_owner_id" json:"shop_owner_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Inventory represents product stock
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	Available int       `db:"available" json:"available"`
	Frozen    int       `db:"frozen" json:"frozen"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one pending selection in an account's cart
type CartItem struct {
	ID        int64     `db:"id" json:"cart_item_id"`
	AccountID int64     `db:"account_id" json:"account_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartLine is a cart item joined with product display data
type CartLine struct {
	CartItem
	Title string `db:"title" json:"title"`
	Price int64  `db:"price" json:"price"`
	Cover string `db:"cover" json:"cover"`
}

// Order represents a checked-out purchase
type Order struct {
	ID            int64       `db:"id" json:"id"`
	AccountID     int64       `db:"account_id" json:"account_id"`
	TotalAmount   int64       `db:"total_amount" json:"total_amount"`
	PaymentMethod string      `db:"payment_method" json:"payment_method"`
	Status        OrderStatus `db:"status" json:"status"`
	CouponID      *int64      `db:"coupon_id" json:"coupon_id,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order, priced at checkout time
type OrderItem struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
}

// Payment represents a payment request and its settlement outcome
type Payment struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Status       string    `db:"status" json:"status"`
	ProviderTxID string    `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Amount       int64     `db:"amount" json:"amount"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Message is an inbox entry for an account. EventID is the notification
// that produced it; one event yields at most one message.
type Message struct {
	ID          int64     `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"-"`
	ToAccountID int64     `db:"to_account_id" json:"to_account_id"`
	Kind        string    `db:"kind" json:"kind"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Payment statuses. CAPTURED marks money taken by the provider for an order
// that could not be settled.
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusSuccess  = "SUCCESS"
	PaymentStatusFailed   = "FAILED"
	PaymentStatusCaptured = "CAPTURED"
)

const PaymentMethodAlipay = "ALIPAY"

// Message kinds delivered to accounts
const (
	MessageKindLowInventory = "LOW_INVENTORY"
	MessageKindOrderPaid    = "ORDER_PAID"
)
