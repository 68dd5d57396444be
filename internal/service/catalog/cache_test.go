package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return NewRedisCache(client, ttl, logger.WithField("component", "lesson-cache-test")), srv
}

func TestRedisCache_PutGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedisCache(t, time.Minute)

	query := domain.LessonQuery{Search: "math", SortBy: domain.LessonSortPrice}
	_, key, ok := cache.GetLessons(ctx, query)
	assert.False(t, ok, "empty cache must miss")
	require.NotEmpty(t, key)

	lessons := []domain.Lesson{{ID: "L1", Subject: "Math", Spaces: 3, PriceMinor: 100}}
	cache.PutLessons(ctx, key, lessons)

	got, _, ok := cache.GetLessons(ctx, query)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "L1", got[0].ID)
	assert.Equal(t, int32(3), got[0].Spaces)

	_, otherKey, ok := cache.GetLessons(ctx, domain.LessonQuery{Search: "art"})
	assert.False(t, ok)
	assert.NotEqual(t, key, otherKey, "different query must use a different key")
}

func TestRedisCache_CapacityChangedInvalidates(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedisCache(t, time.Minute)

	query := domain.LessonQuery{}
	_, key, _ := cache.GetLessons(ctx, query)
	cache.PutLessons(ctx, key, []domain.Lesson{{ID: "L1", Spaces: 5}})

	cache.CapacityChanged(ctx, nil)
	_, _, ok := cache.GetLessons(ctx, query)
	assert.True(t, ok, "empty change set keeps cache")

	cache.CapacityChanged(ctx, []string{"L1"})
	_, _, ok = cache.GetLessons(ctx, query)
	assert.False(t, ok)
}

func TestRedisCache_PutUnderStaleGenerationIsInvisible(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedisCache(t, time.Minute)

	query := domain.LessonQuery{}
	_, staleKey, ok := cache.GetLessons(ctx, query)
	require.False(t, ok)

	// места изменились между чтением хранилища и записью в кеш
	cache.CapacityChanged(ctx, []string{"L1"})
	cache.PutLessons(ctx, staleKey, []domain.Lesson{{ID: "L1", Spaces: 5}})

	_, freshKey, ok := cache.GetLessons(ctx, query)
	assert.False(t, ok, "stale snapshot must not be served after invalidation")
	assert.NotEqual(t, staleKey, freshKey)
}

func TestRedisCache_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestRedisCache(t, 10*time.Second)

	query := domain.LessonQuery{}
	_, key, _ := cache.GetLessons(ctx, query)
	cache.PutLessons(ctx, key, []domain.Lesson{{ID: "L1"}})

	srv.FastForward(11 * time.Second)

	_, _, ok := cache.GetLessons(ctx, query)
	assert.False(t, ok)
}

func TestRedisCache_UnavailableRedisIsMiss(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestRedisCache(t, time.Minute)
	srv.Close()

	_, key, ok := cache.GetLessons(ctx, domain.LessonQuery{})
	assert.False(t, ok)
	assert.Empty(t, key, "unknown generation must not be cached")
	cache.PutLessons(ctx, key, []domain.Lesson{{ID: "L1"}})
	assert.Error(t, cache.Ping(ctx))
}
