package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// StockCache is an advisory mirror of available stock
type StockCache interface {
	SetStock(ctx context.Context, productID int64, available int, version int64) error
	GetStock(ctx context.Context, productID int64) (available int, ok bool, err error)
}

// Locker hands out short-lived cross-instance locks
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Notifier is the messaging collaborator. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, toAccountID int64, kind string) error
}

// EventPublisher receives order lifecycle events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
	PublishSettlementFault(ctx context.Context, event *models.SettlementFaultEvent) error
}

type noopCache struct{}

func (noopCache) SetStock(context.Context, int64, int, int64) error { return nil }
func (noopCache) GetStock(context.Context, int64) (int, bool, error) {
	return 0, false, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, int64, string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}
func (noopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error { return nil }
func (noopPublisher) PublishOrderFailed(context.Context, *models.OrderFailedEvent) error {
	return nil
}
func (noopPublisher) PublishSettlementFault(context.Context, *models.SettlementFaultEvent) error {
	return nil
}

// Deps bundles the optional collaborators. Nil fields fall back to no-ops.
type Deps struct {
	Cache     StockCache
	Locker    Locker
	Notifier  Notifier
	Publisher EventPublisher
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = noopCache{}
	}
	if d.Locker == nil {
		d.Locker = noopLocker{}
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = noopPublisher{}
	}
	return d
}
