package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/lessonbook/internal/health"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/memory"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/mongo"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/postgres"
)

// runtimeDependencies — хранилища выбранного драйвера.
type runtimeDependencies struct {
	capacity        domain.CapacityStore
	orders          domain.OrderLedger
	lessons         domain.LessonCatalog
	tx              domain.Transactor
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
	// durableOutbox — outbox переживает рестарт и будет доставлен позже.
	durableOutbox bool
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		return initMemoryDependencies(logger), nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	case StorageDriverMongo:
		return initMongoDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMemoryDependencies(logger *log.Entry) *runtimeDependencies {
	store := memory.NewStore()
	logger.Info("using in-memory storage")

	return &runtimeDependencies{
		capacity:        store.Capacity(),
		orders:          store.Orders(),
		lessons:         store.Lessons(),
		tx:              store,
		outboxRepo:      store.Outbox(),
		timelineRepo:    store.Timeline(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
		closeFn:         func() error { return nil },
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage requires BOOKING_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	} else {
		version, applied, err := store.MigrationStatus(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("check postgres schema: %w", err)
		}
		if applied == 0 {
			logger.Warn("postgres schema has no applied migrations, run the migrate command")
		}
		logger.WithField("schema_version", version).Info("postgres auto-migration disabled")
	}

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		capacity:        store.Capacity(),
		orders:          store.Orders(),
		lessons:         store.Lessons(),
		tx:              store,
		outboxRepo:      store.Outbox(),
		timelineRepo:    store.Timeline(),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
		closeFn:         store.Close,
		durableOutbox:   true,
	}, nil
}

func initMongoDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("mongo storage requires BOOKING_MONGO_URI")
	}

	store, err := mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("open mongo: %w", err)
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}

	logger.WithField("database", cfg.MongoDatabase).Info("using mongo storage")
	return &runtimeDependencies{
		capacity:        store.Capacity(),
		orders:          store.Orders(),
		lessons:         store.Lessons(),
		tx:              store,
		outboxRepo:      store.Outbox(),
		timelineRepo:    store.Timeline(),
		idempotencyRepo: mongo.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
		closeFn: func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(closeCtx)
		},
		durableOutbox: true,
	}, nil
}

// outboxEnabled — события пишутся, если их заберёт брокер или сохранит постоянное хранилище.
func (d *runtimeDependencies) outboxEnabled(publishers *outboxPublishers) bool {
	return publishers != nil || d.durableOutbox
}
