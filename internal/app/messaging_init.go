package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/messaging/amqp"
	"github.com/vladislavdragonenkov/lessonbook/internal/messaging/kafka"
)

// outboxPublishers — издатели событий и DLQ для outbox worker.
type outboxPublishers struct {
	events  domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	broker  string
	closeFn func() error
}

// initOutboxPublishers подключается к Kafka или RabbitMQ.
// Без настроенного брокера или при ошибке подключения возвращает nil:
// события остаются в outbox до следующего запуска.
func initOutboxPublishers(cfg Config, logger *log.Entry) *outboxPublishers {
	switch {
	case len(cfg.Brokers()) > 0:
		producer, err := kafka.NewProducer(cfg.Brokers(), logger.WithField("component", "kafka-producer"))
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without broker")
			return nil
		}
		logger.WithField("brokers", cfg.Brokers()).Info("kafka producer initialized")
		return &outboxPublishers{
			events:  kafka.NewOutboxPublisher(producer, cfg.OutboxTopic),
			dlq:     kafka.NewOutboxPublisher(producer, cfg.OutboxDLQTopic),
			broker:  "kafka",
			closeFn: producer.Close,
		}
	case cfg.AMQPURL != "":
		publisher, err := amqp.Dial(cfg.AMQPURL, logger.WithField("component", "amqp-publisher"))
		if err != nil {
			logger.WithError(err).Warn("failed to connect to rabbitmq, continuing without broker")
			return nil
		}
		logger.Info("rabbitmq publisher initialized")
		return &outboxPublishers{
			events:  amqp.NewOutboxPublisher(publisher, cfg.OutboxTopic),
			dlq:     amqp.NewOutboxPublisher(publisher, cfg.OutboxDLQTopic),
			broker:  "rabbitmq",
			closeFn: publisher.Close,
		}
	default:
		logger.Info("no message broker configured, outbox events stay pending")
		return nil
	}
}

// close закрывает соединение с брокером.
func (p *outboxPublishers) close(logger *log.Entry) {
	if p == nil || p.closeFn == nil {
		return
	}
	if err := p.closeFn(); err != nil {
		logger.WithError(err).WithField("broker", p.broker).Warn("failed to close broker connection")
		return
	}
	logger.WithField("broker", p.broker).Info("broker connection closed")
}
