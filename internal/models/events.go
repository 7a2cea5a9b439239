package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderFailed     = "ORDER_FAILED"
	EventTypeSettlementFault = "SETTLEMENT_FAULT"
	EventTypeNotification    = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderCreatedEvent published when checkout persists a pending order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	AccountID   int64           `json:"account_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published when settlement completes
type OrderPaidEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	AccountID int64  `json:"account_id"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"tx_id"`
}

// OrderFailedEvent published when an order ends in FAILED
type OrderFailedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// SettlementFaultEvent is an operator alert: money moved but settlement could not finish
type SettlementFaultEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	ProductID int64  `json:"product_id"`
	TxID      string `json:"tx_id"`
	Reason    string `json:"reason"`
}

// NotificationEvent carries a message for the messaging collaborator
type NotificationEvent struct {
	BaseEvent
	ToAccountID int64  `json:"to_account_id"`
	Kind        string `json:"kind"`
}

// OrderItemData is the item payload shared by order events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
