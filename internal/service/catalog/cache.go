package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

const (
	defaultCacheTTL    = 30 * time.Second
	defaultCachePrefix = "booking:lessons"
	cacheOpTimeout     = 500 * time.Millisecond
)

// LessonCache кеширует результаты выборок уроков.
// GetLessons возвращает ключ, вычисленный до чтения из хранилища; PutLessons пишет
// только под ним, поэтому выборка, прочитанная до инвалидации, не попадает в новое поколение.
// Пустой ключ означает, что поколение неизвестно и кешировать нельзя.
type LessonCache interface {
	GetLessons(ctx context.Context, query domain.LessonQuery) (lessons []domain.Lesson, key string, ok bool)
	PutLessons(ctx context.Context, key string, lessons []domain.Lesson)
	Invalidate(ctx context.Context)
}

// RedisCache хранит выборки уроков в Redis.
// Ключи включают номер поколения: инвалидация — это INCR счётчика поколения,
// старые записи просто истекают по TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Entry
}

// NewRedisCache создаёт кеш поверх клиента Redis.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *log.Entry) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = log.WithField("component", "lesson-cache")
	}
	return &RedisCache{
		client: client,
		prefix: defaultCachePrefix,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient создаёт клиент и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// GetLessons возвращает выборку из кеша и ключ текущего поколения.
// Любая ошибка Redis считается промахом.
func (c *RedisCache) GetLessons(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, string, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key, err := c.key(ctx, query)
	if err != nil {
		c.logger.WithError(err).Debug("resolve cache key failed")
		return nil, "", false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Debug("cache get failed")
		}
		return nil, key, false
	}

	var lessons []domain.Lesson
	if err := json.Unmarshal(data, &lessons); err != nil {
		c.logger.WithError(err).Warn("decode cached lessons failed")
		return nil, key, false
	}
	return lessons, key, true
}

// PutLessons сохраняет выборку под ключом, полученным из GetLessons.
func (c *RedisCache) PutLessons(ctx context.Context, key string, lessons []domain.Lesson) {
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	data, err := json.Marshal(lessons)
	if err != nil {
		c.logger.WithError(err).Warn("encode lessons for cache failed")
		return
	}
	if err := c.client.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("cache set failed")
	}
}

// Invalidate делает недоступными все закешированные выборки.
func (c *RedisCache) Invalidate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.logger.WithError(err).Warn("cache invalidation failed")
	}
}

// CapacityChanged сбрасывает кеш после резервирования или возврата мест.
func (c *RedisCache) CapacityChanged(ctx context.Context, lessonIDs []string) {
	if len(lessonIDs) == 0 {
		return
	}
	c.Invalidate(ctx)
}

// Ping проверяет доступность Redis для health-check.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisCache) key(ctx context.Context, query domain.LessonQuery) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	raw, err := json.Marshal(query)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw)
	return fmt.Sprintf("%s:v%s:%x", c.prefix, strconv.FormatInt(gen, 10), sum[:]), nil
}

var _ LessonCache = (*RedisCache)(nil)
