// Package amqp публикует outbox-события в RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/messaging"
)

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher держит одно соединение и канал RabbitMQ.
// Очереди объявляются durable при первой публикации.
type Publisher struct {
	conn   *amqp.Connection
	ch     channel
	logger *log.Entry

	mu       sync.Mutex
	declared map[string]struct{}
}

// Dial подключается к брокеру по url.
func Dial(url string, logger *log.Entry) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp open channel: %w", err)
	}

	p := newPublisher(ch, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, logger *log.Entry) *Publisher {
	if logger == nil {
		logger = log.WithField("component", "amqp-publisher")
	}
	return &Publisher{
		ch:       ch,
		logger:   logger,
		declared: make(map[string]struct{}),
	}
}

// Send публикует persistent-сообщение в очередь через default exchange.
func (p *Publisher) Send(ctx context.Context, queue, messageID string, body []byte, headers map[string]string) error {
	if err := p.declare(queue); err != nil {
		return err
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	err := p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		p.logger.WithError(err).WithField("queue", queue).Error("failed to publish message to rabbitmq")
		return fmt.Errorf("amqp publish: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"queue":      queue,
		"message_id": messageID,
	}).Debug("message sent to rabbitmq")
	return nil
}

func (p *Publisher) declare(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[queue]; ok {
		return nil
	}
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp declare queue %q: %w", queue, err)
	}
	p.declared[queue] = struct{}{}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	var firstErr error
	if err := p.ch.Close(); err != nil {
		firstErr = fmt.Errorf("close amqp channel: %w", err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return firstErr
}

// OutboxQueuePublisher публикует outbox-сообщения в одну очередь.
type OutboxQueuePublisher struct {
	publisher *Publisher
	queue     string
	now       func() time.Time
}

// NewOutboxPublisher создаёт AMQP-паблишер для transactional outbox.
// Пустая очередь означает messaging.TopicBookingEvents.
func NewOutboxPublisher(publisher *Publisher, queue string) *OutboxQueuePublisher {
	if queue == "" {
		queue = messaging.TopicBookingEvents
	}
	return &OutboxQueuePublisher{
		publisher: publisher,
		queue:     queue,
		now:       time.Now,
	}
}

// Publish отправляет событие в конверте messaging.Envelope.
func (p *OutboxQueuePublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.publisher == nil {
		return fmt.Errorf("amqp outbox publisher is not initialized")
	}

	body, err := json.Marshal(messaging.NewEnvelope(event, p.now()))
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	return p.publisher.Send(ctx, p.queue, event.ID, body, map[string]string{
		messaging.HeaderEventType:     event.EventType,
		messaging.HeaderAggregateType: event.AggregateType,
		messaging.HeaderOutboxID:      event.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxQueuePublisher)(nil)
