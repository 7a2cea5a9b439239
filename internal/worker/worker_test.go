package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memory"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueReader struct {
	mu    sync.Mutex
	queue []kafka.Message
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(context.Context, ...kafka.Message) error {
	return nil
}

func (r *queueReader) Close() error { return nil }

// flakyInbox fails the first writes, then passes through
type flakyInbox struct {
	store.MessageRepository
	mu       sync.Mutex
	failures int
}

func (f *flakyInbox) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return false, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MessageRepository.CreateMessage(ctx, msg)
}

func notification(t *testing.T, to int64, kind string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.NotificationEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeNotification),
		ToAccountID: to,
		Kind:        kind,
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestMessageWorker_DeliversToInbox(t *testing.T) {
	repo := memory.NewStore()
	reader := &queueReader{queue: []kafka.Message{
		notification(t, 9, models.MessageKindLowInventory),
		notification(t, 100, models.MessageKindOrderPaid),
		notification(t, 9, models.MessageKindLowInventory),
	}}
	w := NewMessageWorker(broker.NewConsumerWithReader(reader, "notifications"), repo)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Start(ctx), context.DeadlineExceeded)
	require.NoError(t, w.Stop())

	owner, err := repo.ListMessages(context.Background(), 9)
	require.NoError(t, err)
	assert.Len(t, owner, 2)
	assert.Equal(t, models.MessageKindLowInventory, owner[0].Kind)

	buyer, err := repo.ListMessages(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, buyer, 1)
	assert.Equal(t, models.MessageKindOrderPaid, buyer[0].Kind)
}

func TestMessageWorker_RedeliveryDoesNotDuplicate(t *testing.T) {
	repo := memory.NewStore()
	msg := notification(t, 100, models.MessageKindOrderPaid)
	reader := &queueReader{queue: []kafka.Message{msg, msg}}
	w := NewMessageWorker(broker.NewConsumerWithReader(reader, "notifications"), repo)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Start(ctx), context.DeadlineExceeded)

	inbox, err := repo.ListMessages(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestMessageWorker_RetriesFailedDelivery(t *testing.T) {
	repo := memory.NewStore()
	inbox := &flakyInbox{MessageRepository: repo, failures: 2}
	reader := &queueReader{queue: []kafka.Message{
		notification(t, 9, models.MessageKindLowInventory),
		notification(t, 100, models.MessageKindOrderPaid),
	}}
	consumer := broker.NewConsumerWithReader(reader, "notifications").WithBackoff(time.Millisecond, 5*time.Millisecond)
	w := NewMessageWorker(consumer, inbox)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Start(ctx), context.DeadlineExceeded)

	owner, err := repo.ListMessages(context.Background(), 9)
	require.NoError(t, err)
	assert.Len(t, owner, 1)

	buyer, err := repo.ListMessages(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, buyer, 1)
}
