package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/lessonbook/internal/messaging"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

// Форматы логов.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config описывает настройки запуска сервиса бронирования.
// Списки (брокеры, CORS) хранятся строками через запятую, чтобы Config оставался сравнимым.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	MongoURI            string
	MongoDatabase       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	KafkaBrokers       string
	AMQPURL            string
	OutboxTopic        string
	OutboxDLQTopic     string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	SeedFile              string
	ImagesDir             string
	CORSOrigins           string
	AllowDirectSpacesEdit bool

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска на памяти.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MongoDatabase:       "booking",

		CacheTTL: time.Minute,

		OutboxTopic:        messaging.TopicBookingEvents,
		OutboxDLQTopic:     messaging.TopicDeadLetterQueue,
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		CORSOrigins: "*",

		LogLevel:  "info",
		LogFormat: LogFormatText,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения BOOKING_*.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return configFromEnv(os.LookupEnv)
}

// configFromEnv накладывает значения из lookup поверх DefaultConfig.
func configFromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	p := envParser{lookup: lookup}

	p.str("BOOKING_HTTP_ADDR", &cfg.HTTPAddr)
	p.str("BOOKING_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("BOOKING_METRICS_ADDR", &cfg.MetricsAddr)

	p.str("BOOKING_STORAGE_DRIVER", &cfg.StorageDriver)
	p.str("BOOKING_POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("BOOKING_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	p.str("BOOKING_MONGO_URI", &cfg.MongoURI)
	p.str("BOOKING_MONGO_DATABASE", &cfg.MongoDatabase)

	p.str("BOOKING_REDIS_ADDR", &cfg.RedisAddr)
	p.str("BOOKING_REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("BOOKING_REDIS_DB", &cfg.RedisDB)
	p.duration("BOOKING_CACHE_TTL", &cfg.CacheTTL)

	p.str("BOOKING_KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("BOOKING_AMQP_URL", &cfg.AMQPURL)
	p.str("BOOKING_OUTBOX_TOPIC", &cfg.OutboxTopic)
	p.str("BOOKING_OUTBOX_DLQ_TOPIC", &cfg.OutboxDLQTopic)
	p.duration("BOOKING_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("BOOKING_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.integer("BOOKING_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	p.duration("BOOKING_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	p.duration("BOOKING_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	p.duration("BOOKING_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	p.integer("BOOKING_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	p.str("BOOKING_SEED_FILE", &cfg.SeedFile)
	p.str("BOOKING_IMAGES_DIR", &cfg.ImagesDir)
	p.str("BOOKING_CORS_ORIGINS", &cfg.CORSOrigins)
	p.boolean("BOOKING_ALLOW_DIRECT_SPACES_EDIT", &cfg.AllowDirectSpacesEdit)

	p.str("BOOKING_LOG_LEVEL", &cfg.LogLevel)
	p.str("BOOKING_LOG_FORMAT", &cfg.LogFormat)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate отклоняет несовместимые настройки.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("BOOKING_POSTGRES_DSN is required for postgres storage"))
		}
	case StorageDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = append(errs, errors.New("BOOKING_MONGO_URI is required for mongo storage"))
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			errs = append(errs, errors.New("BOOKING_MONGO_DATABASE is required for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.KafkaBrokers != "" && c.AMQPURL != "" {
		errs = append(errs, errors.New("BOOKING_KAFKA_BROKERS and BOOKING_AMQP_URL are mutually exclusive"))
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of BOOKING_HTTP_ADDR and BOOKING_GRPC_ADDR is required"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("BOOKING_REDIS_DB must not be negative"))
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Brokers возвращает список Kafka брокеров.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Origins возвращает разрешённые CORS origins.
func (c Config) Origins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type envParser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *envParser) value(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid int for %s: %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid bool for %s: %q", key, v))
		return
	}
	*dst = b
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid duration for %s: %q", key, v))
		return
	}
	*dst = d
}
