package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// MessageWorker delivers NOTIFICATION events into account inboxes
type MessageWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	messages     store.MessageRepository
	logger       *zap.Logger
}

// NewMessageWorker creates a new message worker
func NewMessageWorker(consumer *broker.Consumer, messages store.MessageRepository) *MessageWorker {
	w := &MessageWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		messages:     messages,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnNotification(w.Deliver)
	return w
}

// Start consumes until ctx ends
func (w *MessageWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting message worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *MessageWorker) Stop() error {
	w.logger.Info("Stopping message worker...")
	return w.consumer.Close()
}

// Deliver writes one inbox entry per event. An error makes the consumer retry
// the message; a redelivered event is acknowledged without a second entry.
func (w *MessageWorker) Deliver(ctx context.Context, event *models.NotificationEvent) error {
	msg := &models.Message{EventID: event.EventID, ToAccountID: event.ToAccountID, Kind: event.Kind}
	created, err := w.messages.CreateMessage(ctx, msg)
	if err != nil {
		w.logger.Error("Failed to deliver message",
			zap.String("event_id", event.EventID),
			zap.Int64("to_account_id", event.ToAccountID),
			zap.Error(err))
		return err
	}
	if !created {
		w.logger.Debug("Message already delivered", zap.String("event_id", event.EventID))
		return nil
	}

	util.MessagesDeliveredTotal.WithLabelValues(event.Kind).Inc()
	w.logger.Debug("Message delivered",
		zap.Int64("message_id", msg.ID),
		zap.Int64("to_account_id", event.ToAccountID),
		zap.String("kind", event.Kind))
	return nil
}
