package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/metrics"
	"github.com/vladislavdragonenkov/lessonbook/internal/storage/memory"
)

var testLessons = []domain.Lesson{
	{ID: "math-1", Subject: "Math", Location: "London", Title: "Algebra", PriceMinor: 1000, Spaces: 5, Date: "2026-03-01"},
	{ID: "art-1", Subject: "Art", Location: "Oxford", Title: "Painting", PriceMinor: 800, Spaces: 0, Date: "2026-03-02"},
	{ID: "music-1", Subject: "Music", Location: "Bristol", Title: "Piano", PriceMinor: 1500, Spaces: 2, Date: "2026-03-01"},
}

type countingCache struct {
	inner       LessonCache
	invalidated int
}

func (c *countingCache) GetLessons(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, string, bool) {
	return c.inner.GetLessons(ctx, query)
}

func (c *countingCache) PutLessons(ctx context.Context, key string, lessons []domain.Lesson) {
	c.inner.PutLessons(ctx, key, lessons)
}

func (c *countingCache) Invalidate(ctx context.Context) {
	c.invalidated++
	c.inner.Invalidate(ctx)
}

// racingCatalog вызывает during после чтения из хранилища, до записи выборки в кеш.
type racingCatalog struct {
	domain.LessonCatalog
	during func()
}

func (c *racingCatalog) List(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, error) {
	lessons, err := c.LessonCatalog.List(ctx, query)
	if c.during != nil {
		during := c.during
		c.during = nil
		during()
	}
	return lessons, err
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "catalog-test")
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc := NewService(store.Lessons(), store.Orders(), opts...)
	require.NoError(t, svc.SeedLessons(context.Background(), testLessons))
	return svc, store
}

func lessonIDs(lessons []domain.Lesson) []string {
	ids := make([]string, 0, len(lessons))
	for _, l := range lessons {
		ids = append(ids, l.ID)
	}
	return ids
}

func TestService_ListLessons(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name  string
		query domain.LessonQuery
		want  []string
	}{
		{name: "all by id", query: domain.LessonQuery{}, want: []string{"art-1", "math-1", "music-1"}},
		{name: "search subject", query: domain.LessonQuery{Search: "MATH"}, want: []string{"math-1"}},
		{name: "search location", query: domain.LessonQuery{Search: "ford"}, want: []string{"art-1"}},
		{name: "search title", query: domain.LessonQuery{Search: "piano"}, want: []string{"music-1"}},
		{name: "min spaces", query: domain.LessonQuery{MinSpaces: 1, SortBy: "spaces"}, want: []string{"music-1", "math-1"}},
		{name: "date", query: domain.LessonQuery{Date: "2026-03-01", SortBy: "price", SortDir: "desc"}, want: []string{"music-1", "math-1"}},
		{name: "sort location desc", query: domain.LessonQuery{SortBy: "location", SortDir: "DESC"}, want: []string{"art-1", "math-1", "music-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lessons, err := svc.ListLessons(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lessonIDs(lessons))
		})
	}
}

func TestService_ListLessonsRejectsBadQuery(t *testing.T) {
	svc, _ := newTestService(t)

	queries := []domain.LessonQuery{
		{SortBy: "colour"},
		{SortDir: "sideways"},
		{MinSpaces: -1},
		{Date: "01/03/2026"},
	}
	for _, q := range queries {
		_, err := svc.ListLessons(context.Background(), q)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "query %+v", q)
	}
}

func TestService_ListLessonsUsesCache(t *testing.T) {
	ctx := context.Background()
	redisCache, _ := newTestRedisCache(t, time.Minute)
	cache := &countingCache{inner: redisCache}
	registry := prometheus.NewRegistry()
	svc, store := newTestService(t, WithCache(cache), WithMetrics(metrics.NewBookingMetricsWithRegisterer(registry)))

	first, err := svc.ListLessons(ctx, domain.LessonQuery{})
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Изменение в обход сервиса не видно, пока кеш не сброшен.
	_, err = store.Capacity().TryReserve(ctx, "math-1", 1)
	require.NoError(t, err)

	cached, err := svc.ListLessons(ctx, domain.LessonQuery{})
	require.NoError(t, err)
	assert.Equal(t, lessonIDs(first), lessonIDs(cached))
	for _, l := range cached {
		if l.ID == "math-1" {
			assert.Equal(t, int32(5), l.Spaces)
		}
	}

	redisCache.CapacityChanged(ctx, []string{"math-1"})

	fresh, err := svc.ListLessons(ctx, domain.LessonQuery{})
	require.NoError(t, err)
	for _, l := range fresh {
		if l.ID == "math-1" {
			assert.Equal(t, int32(4), l.Spaces)
		}
	}

	families, err := registry.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "booking_catalog_cache_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			results[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, results["hit"])
	assert.Equal(t, 2.0, results["miss"])
}

func TestService_ListLessonsSnapshotRacingReservationIsNotCached(t *testing.T) {
	ctx := context.Background()
	redisCache, _ := newTestRedisCache(t, time.Minute)
	store := memory.NewStore()
	for _, lesson := range testLessons {
		require.NoError(t, store.Lessons().Upsert(ctx, lesson))
	}

	lessons := &racingCatalog{LessonCatalog: store.Lessons(), during: func() {
		_, err := store.Capacity().TryReserve(ctx, "math-1", 1)
		require.NoError(t, err)
		redisCache.CapacityChanged(ctx, []string{"math-1"})
	}}
	svc := NewService(lessons, store.Orders(), WithLogger(quietLogger()), WithCache(redisCache))

	stale, err := svc.ListLessons(ctx, domain.LessonQuery{Search: "math"})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int32(5), stale[0].Spaces)

	fresh, err := svc.ListLessons(ctx, domain.LessonQuery{Search: "math"})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, int32(4), fresh[0].Spaces)
}

func TestService_ReseedKeepsRemainingSpaces(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := store.Capacity().TryReserve(ctx, "math-1", 2)
	require.NoError(t, err)

	renamed := append([]domain.Lesson(nil), testLessons...)
	renamed[0].Title = "Algebra II"
	require.NoError(t, svc.SeedLessons(ctx, renamed))

	lesson, err := svc.GetLesson(ctx, "math-1")
	require.NoError(t, err)
	assert.Equal(t, "Algebra II", lesson.Title)
	assert.Equal(t, int32(3), lesson.Spaces)

	require.NoError(t, store.Capacity().Release(ctx, "math-1", 2))
	lesson, err = svc.GetLesson(ctx, "math-1")
	require.NoError(t, err)
	assert.Equal(t, int32(5), lesson.Spaces)
}

func TestService_GetLesson(t *testing.T) {
	svc, _ := newTestService(t)

	lesson, err := svc.GetLesson(context.Background(), " math-1 ")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", lesson.Title)

	_, err = svc.GetLesson(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrLessonNotFound)

	_, err = svc.GetLesson(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestService_UpdateLesson(t *testing.T) {
	ctx := context.Background()
	redisCache, _ := newTestRedisCache(t, time.Minute)
	cache := &countingCache{inner: redisCache}
	svc, _ := newTestService(t, WithCache(cache))
	cache.invalidated = 0

	title := "Linear Algebra"
	price := int64(1200)
	lesson, err := svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{Title: &title, PriceMinor: &price})
	require.NoError(t, err)
	assert.Equal(t, title, lesson.Title)
	assert.Equal(t, price, lesson.PriceMinor)
	assert.Equal(t, int32(5), lesson.Spaces)
	assert.Equal(t, 1, cache.invalidated)

	_, err = svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	negative := int64(-1)
	_, err = svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{PriceMinor: &negative})
	assert.ErrorIs(t, err, domain.ErrPriceNegative)

	badDate := "tomorrow"
	_, err = svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{Date: &badDate})
	assert.ErrorIs(t, err, domain.ErrDateInvalid)

	_, err = svc.UpdateLesson(ctx, "missing", domain.LessonPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrLessonNotFound)
}

func TestService_DirectSpacesEditGuard(t *testing.T) {
	ctx := context.Background()
	spaces := int32(42)

	t.Run("rejected by default", func(t *testing.T) {
		svc, store := newTestService(t)

		_, err := svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{Spaces: &spaces})
		assert.ErrorIs(t, err, domain.ErrDirectCapacityEdit)

		lesson, err := store.Lessons().Get(ctx, "math-1")
		require.NoError(t, err)
		assert.Equal(t, int32(5), lesson.Spaces)
	})

	t.Run("allowed and counted", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		svc, _ := newTestService(t,
			WithDirectSpacesEdit(true),
			WithMetrics(metrics.NewBookingMetricsWithRegisterer(registry)),
		)

		lesson, err := svc.UpdateLesson(ctx, "math-1", domain.LessonPatch{Spaces: &spaces})
		require.NoError(t, err)
		assert.Equal(t, spaces, lesson.Spaces)

		families, err := registry.Gather()
		require.NoError(t, err)
		var edits float64
		for _, family := range families {
			if family.GetName() == "booking_direct_capacity_edits_total" {
				edits = family.GetMetric()[0].GetCounter().GetValue()
			}
		}
		assert.Equal(t, 1.0, edits)
	})
}

func TestService_Orders(t *testing.T) {
	ctx := context.Background()
	timeline := memory.NewTimelineRepository()
	svc, store := newTestService(t, WithTimeline(timeline))

	now := time.Now().UTC()
	for i, name := range []string{"Bob", "alice", "Carol"} {
		order := domain.Order{
			ID:            name,
			CustomerName:  name,
			CustomerPhone: "0123456789",
			Status:        domain.OrderStatusActive,
			TotalMinor:    int64(100 * (i + 1)),
			Items:         []domain.OrderItem{{LessonID: "math-1", Units: int32(i + 1), PriceMinor: 100}},
			CreatedAt:     now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     now,
		}
		require.NoError(t, store.Orders().Create(ctx, order))
	}
	require.NoError(t, store.Orders().MarkCancelled(ctx, "Carol", now))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{OrderID: "Bob", Type: domain.TimelineOrderPlaced, Occurred: now}))

	orders, err := svc.ListOrders(ctx, domain.OrderQuery{})
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "Carol", orders[0].ID, "newest first by default")

	orders, err = svc.ListOrders(ctx, domain.OrderQuery{SortBy: "customer_name"})
	require.NoError(t, err)
	assert.Equal(t, "alice", orders[0].ID)

	orders, err = svc.ListOrders(ctx, domain.OrderQuery{Status: domain.OrderStatusActive, SortBy: "total", SortDir: "desc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "alice", orders[0].ID)

	_, err = svc.ListOrders(ctx, domain.OrderQuery{SortBy: "phone"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.ListOrders(ctx, domain.OrderQuery{Status: "paid"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	view, err := svc.GetOrder(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", view.Order.ID)
	require.Len(t, view.Timeline, 1)
	assert.Equal(t, domain.TimelineOrderPlaced, view.Timeline[0].Type)

	_, err = svc.GetOrder(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestService_SeedLessonsValidates(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.SeedLessons(context.Background(), []domain.Lesson{{ID: "bad", Spaces: -1}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, err, domain.ErrSpacesNegative)
}
