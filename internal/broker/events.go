package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a message that can never be decoded. The consumer
// commits past it instead of retrying.
var ErrMalformedEvent = errors.New("malformed event")

// EventPublisher publishes order lifecycle events and, on a separate topic,
// notifications for the messaging collaborator
type EventPublisher struct {
	orders        *Producer
	notifications *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, notifications *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, notifications: notifications}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderFailed publishes OrderFailed event
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishSettlementFault publishes the operator alert for a paid order that
// could not be settled
func (ep *EventPublisher) PublishSettlementFault(ctx context.Context, event *models.SettlementFaultEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// Notify hands a message to the messaging collaborator
func (ep *EventPublisher) Notify(ctx context.Context, toAccountID int64, kind string) error {
	event := &models.NotificationEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeNotification),
		ToAccountID: toAccountID,
		Kind:        kind,
	}
	return ep.notifications.PublishEvent(ctx, fmt.Sprintf("account-%d", toAccountID), event.EventType, event)
}

// EventHandler routes consumed messages by event_type
type EventHandler struct {
	onNotification func(context.Context, *models.NotificationEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnNotification registers a handler for NOTIFICATION events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w: %w", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeNotification:
		if eh.onNotification != nil {
			var event models.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal Notification event: %w: %w", ErrMalformedEvent, err)
			}
			return eh.onNotification(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
