package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/messaging"
)

type publishedMessage struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []publishedMessage
	publishErr error
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	if exchange != "" {
		return errors.New("unexpected exchange")
	}
	f.published = append(f.published, publishedMessage{queue: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestOutboxQueuePublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	publisher := NewOutboxPublisher(newPublisher(ch, nil), "")
	publishedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return publishedAt }

	msg := domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.TimelineOrderPlaced,
		Payload:       []byte(`{"order_id":"order-1"}`),
	}
	require.NoError(t, publisher.Publish(context.Background(), msg))
	require.NoError(t, publisher.Publish(context.Background(), msg))

	assert.Equal(t, []string{messaging.TopicBookingEvents}, ch.declared, "queue is declared once")
	require.Len(t, ch.published, 2)

	got := ch.published[0]
	assert.Equal(t, messaging.TopicBookingEvents, got.queue)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, "outbox-1", got.msg.MessageId)
	assert.Equal(t, domain.TimelineOrderPlaced, got.msg.Headers[messaging.HeaderEventType])

	var envelope messaging.Envelope
	require.NoError(t, json.Unmarshal(got.msg.Body, &envelope))
	assert.Equal(t, "order-1", envelope.AggregateID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(envelope.Payload))
	assert.True(t, publishedAt.Equal(envelope.PublishedAt))
}

func TestOutboxQueuePublisher_Errors(t *testing.T) {
	brokerDown := errors.New("channel closed")

	publisher := NewOutboxPublisher(newPublisher(&fakeChannel{publishErr: brokerDown}, nil), messaging.TopicDeadLetterQueue)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2"})
	assert.ErrorIs(t, err, brokerDown)

	declareFailed := NewOutboxPublisher(newPublisher(&fakeChannel{declareErr: brokerDown}, nil), "q")
	err = declareFailed.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"})
	assert.ErrorIs(t, err, brokerDown)

	var missing *OutboxQueuePublisher
	assert.Error(t, missing.Publish(context.Background(), domain.OutboxMessage{}))
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	require.NoError(t, newPublisher(ch, nil).Close())
	assert.True(t, ch.closed)
}
