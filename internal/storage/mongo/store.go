package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

const (
	defaultConnTimeout = 5 * time.Second
	opTimeout          = 5 * time.Second

	lessonsCollection     = "lessons"
	ordersCollection      = "orders"
	outboxCollection      = "outbox_messages"
	timelineCollection    = "timeline_events"
	idempotencyCollection = "idempotency_keys"
)

// Store хранит уроки и заказы в MongoDB.
// Транзакции отмены требуют replica set (или sharded cluster).
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	lessons *mongo.Collection
	orders  *mongo.Collection
}

// Open подключается к MongoDB и проверяет доступность сервера.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	return &Store{
		client:  client,
		db:      db,
		lessons: db.Collection(lessonsCollection),
		orders:  db.Collection(ordersCollection),
	}, nil
}

// EnsureIndexes создаёт индексы для выборок заказов, outbox, timeline и TTL ключей идемпотентности.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	_, err = s.db.Collection(outboxCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create outbox indexes: %w", err)
	}

	_, err = s.db.Collection(timelineCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}, {Key: "occurred", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create timeline indexes: %w", err)
	}

	_, err = s.db.Collection(idempotencyCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ttl_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create idempotency indexes: %w", err)
	}
	return nil
}

// Capacity возвращает CapacityStore.
func (s *Store) Capacity() domain.CapacityStore {
	return &capacityStore{coll: s.lessons}
}

// Orders возвращает журнал заказов.
func (s *Store) Orders() domain.OrderLedger {
	return &orderLedger{coll: s.orders}
}

// Lessons возвращает каталог уроков.
func (s *Store) Lessons() domain.LessonCatalog {
	return &lessonCatalog{coll: s.lessons}
}

// Outbox возвращает outbox; внутри WithinTx запись идёт в транзакции сессии.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{coll: s.db.Collection(outboxCollection)}
}

// Timeline возвращает timeline заказов.
func (s *Store) Timeline() domain.TimelineRepository {
	return &timelineRepository{coll: s.db.Collection(timelineCollection)}
}

// WithinTx выполняет fn в транзакции сессии. Операции репозиториев
// получают контекст сессии и поэтому участвуют в транзакции.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	if s == nil || s.client == nil {
		return errors.New("mongo store is not initialized")
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongo session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx, s)
	})
	return err
}

// Ping проверяет доступность сервера.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("mongo store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, nil)
}

// Close закрывает подключение.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.UnitOfWork = (*Store)(nil)
)
