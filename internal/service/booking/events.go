package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// Типы агрегатов в outbox.
const (
	AggregateOrder       = "order"
	AggregateReservation = "reservation"
)

type eventItem struct {
	LessonID   string `json:"lesson_id"`
	Units      int32  `json:"units"`
	PriceMinor int64  `json:"price_minor"`
}

type orderEventPayload struct {
	OrderID    string      `json:"order_id"`
	Status     string      `json:"status"`
	TotalMinor int64       `json:"total_minor"`
	Items      []eventItem `json:"items"`
	Reason     string      `json:"reason,omitempty"`
	Timestamp  string      `json:"ts"`
}

type unwoundEventPayload struct {
	AttemptID string `json:"attempt_id"`
	LessonID  string `json:"lesson_id,omitempty"`
	Reason    string `json:"reason"`
	Timestamp string `json:"ts"`
}

// recordOrderEvent пишет событие заказа в outbox и timeline транзакции uow.
// Ошибка откатывает транзакцию вместе с изменением заказа.
func (c *Coordinator) recordOrderEvent(ctx context.Context, uow domain.UnitOfWork, order domain.Order, eventType, reason string, occurred time.Time) error {
	if c.outbox {
		items := make([]eventItem, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, eventItem{LessonID: item.LessonID, Units: item.Units, PriceMinor: item.PriceMinor})
		}
		err := enqueue(ctx, uow.Outbox(), AggregateOrder, order.ID, eventType, orderEventPayload{
			OrderID:    order.ID,
			Status:     string(order.Status),
			TotalMinor: order.TotalMinor,
			Items:      items,
			Reason:     reason,
			Timestamp:  occurred.Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
	}

	if c.timeline {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := uow.Timeline().Append(ctx, event); err != nil {
			return fmt.Errorf("append %s to timeline: %w", eventType, err)
		}
	}
	return nil
}

// eventsCommitted учитывает события, записанные зафиксированной транзакцией.
func (c *Coordinator) eventsCommitted() {
	if c.outbox {
		c.metrics.RecordOutboxEvent()
	}
	if c.timeline {
		c.metrics.RecordTimelineEvent()
	}
}

// emitUnwound сообщает о несостоявшемся заказе, чьи резервы были возвращены.
// Заказа нет, поэтому событие пишется отдельной транзакцией и его потеря только логируется.
func (c *Coordinator) emitUnwound(ctx context.Context, attemptID, lessonID string, cause error) {
	if !c.outbox {
		return
	}

	payload := unwoundEventPayload{
		AttemptID: attemptID,
		LessonID:  lessonID,
		Reason:    cause.Error(),
		Timestamp: c.now().Format(time.RFC3339Nano),
	}
	err := c.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return enqueue(ctx, uow.Outbox(), AggregateReservation, attemptID, domain.TimelineReservationUnwound, payload)
	})
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"attempt_id": attemptID,
			"event":      domain.TimelineReservationUnwound,
		}).Error("enqueue event failed")
		return
	}
	c.metrics.RecordOutboxEvent()
}

func enqueue(ctx context.Context, outbox domain.OutboxRepository, aggregateType, aggregateID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}
