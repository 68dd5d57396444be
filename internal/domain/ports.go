package domain

import (
	"context"
	"time"
)

// CapacityStore хранит остатки мест по урокам и меняет их атомарно.
type CapacityStore interface {
	// TryReserve списывает units мест, только если остаток >= units.
	// Возвращает ErrCapacityExceeded или ErrLessonNotFound.
	TryReserve(ctx context.Context, lessonID string, units int32) (Reservation, error)
	// Release безусловно возвращает units мест. Возвращает ErrLessonNotFound.
	Release(ctx context.Context, lessonID string, units int32) error
}

// OrderLedger описывает требования к журналу заказов.
type OrderLedger interface {
	// Create сохраняет новый заказ. ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// MarkCancelled условно переводит активный заказ в cancelled.
	// Возвращает ErrOrderNotFound или ErrOrderAlreadyCancelled.
	MarkCancelled(ctx context.Context, id string, at time.Time) error
	// List возвращает заказы с учётом фильтров и сортировки.
	List(ctx context.Context, query OrderQuery) ([]Order, error)
}

// LessonCatalog — чтение уроков и изменение их описательных полей.
type LessonCatalog interface {
	Get(ctx context.Context, id string) (Lesson, error)
	List(ctx context.Context, query LessonQuery) ([]Lesson, error)
	// Update применяет патч и возвращает обновлённый урок.
	Update(ctx context.Context, id string, patch LessonPatch) (Lesson, error)
	// Upsert создаёт урок или обновляет описательные поля существующего.
	// Spaces задаётся только при создании: остаток существующего урока меняет лишь CapacityStore.
	Upsert(ctx context.Context, lesson Lesson) error
}

// UnitOfWork даёт доступ к хранилищам в рамках одной транзакции.
// События outbox и timeline фиксируются вместе с изменением заказа.
type UnitOfWork interface {
	Capacity() CapacityStore
	Orders() OrderLedger
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// Transactor выполняет fn как единицу работы «всё или ничего».
// Ошибка fn откатывает все изменения, сделанные через UnitOfWork.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, responseCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, responseCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
