// Package catalog отдаёт выборки уроков и заказов и меняет описательные поля уроков.
// Места в уроках меняет только booking.Coordinator; прямое изменение spaces
// возможно лишь при явном разрешении в конфигурации.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/metrics"
)

// OrderView — заказ вместе с его timeline.
type OrderView struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Cache                 LessonCache
	Timeline              domain.TimelineRepository
	Logger                *log.Entry
	Metrics               *metrics.BookingMetrics
	AllowDirectSpacesEdit bool
}

// Option настраивает Service.
type Option func(*Options)

// WithCache включает кеш выборок уроков.
func WithCache(cache LessonCache) Option {
	return func(opts *Options) {
		opts.Cache = cache
	}
}

// WithTimeline подключает timeline заказов к GetOrder.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = repo
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики кеша и прямых правок мест.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithDirectSpacesEdit разрешает менять spaces через UpdateLesson.
func WithDirectSpacesEdit(allow bool) Option {
	return func(opts *Options) {
		opts.AllowDirectSpacesEdit = allow
	}
}

// Service — слой чтения и фильтрации.
type Service struct {
	lessons     domain.LessonCatalog
	orders      domain.OrderLedger
	timeline    domain.TimelineRepository
	cache       LessonCache
	logger      *log.Entry
	metrics     *metrics.BookingMetrics
	allowSpaces bool
}

// NewService создаёт сервис каталога.
func NewService(lessons domain.LessonCatalog, orders domain.OrderLedger, options ...Option) *Service {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}

	return &Service{
		lessons:     lessons,
		orders:      orders,
		timeline:    opts.Timeline,
		cache:       opts.Cache,
		logger:      logger,
		metrics:     opts.Metrics,
		allowSpaces: opts.AllowDirectSpacesEdit,
	}
}

// ListLessons возвращает уроки по фильтрам, по возможности из кеша.
func (s *Service) ListLessons(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, error) {
	query.Search = strings.TrimSpace(query.Search)
	query.SortBy = strings.ToLower(strings.TrimSpace(query.SortBy))
	query.SortDir = domain.SortDirection(strings.ToLower(string(query.SortDir)))

	if !domain.ValidLessonSort(query.SortBy) {
		return nil, fmt.Errorf("%w: unsupported sort field %q", domain.ErrInvalidInput, query.SortBy)
	}
	if !domain.ValidSortDirection(query.SortDir) {
		return nil, fmt.Errorf("%w: unsupported sort direction %q", domain.ErrInvalidInput, query.SortDir)
	}
	if query.MinSpaces < 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrSpacesNegative)
	}
	if err := domain.ValidateDate(query.Date); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	var cacheKey string
	if s.cache != nil {
		lessons, key, ok := s.cache.GetLessons(ctx, query)
		if ok {
			s.metrics.RecordCacheHit()
			return lessons, nil
		}
		s.metrics.RecordCacheMiss()
		cacheKey = key
	}

	lessons, err := s.lessons.List(ctx, query)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.PutLessons(ctx, cacheKey, lessons)
	}
	return lessons, nil
}

// GetLesson возвращает урок по идентификатору.
func (s *Service) GetLesson(ctx context.Context, id string) (domain.Lesson, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Lesson{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrItemLessonRequired)
	}
	return s.lessons.Get(ctx, id)
}

// ListOrders возвращает заказы по фильтрам.
func (s *Service) ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	query.SortBy = strings.ToLower(strings.TrimSpace(query.SortBy))
	query.SortDir = domain.SortDirection(strings.ToLower(string(query.SortDir)))

	if !domain.ValidOrderSort(query.SortBy) {
		return nil, fmt.Errorf("%w: unsupported sort field %q", domain.ErrInvalidInput, query.SortBy)
	}
	if !domain.ValidSortDirection(query.SortDir) {
		return nil, fmt.Errorf("%w: unsupported sort direction %q", domain.ErrInvalidInput, query.SortDir)
	}
	switch query.Status {
	case "", domain.OrderStatusActive, domain.OrderStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unsupported status %q", domain.ErrInvalidInput, query.Status)
	}
	if query.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be non-negative", domain.ErrInvalidInput)
	}

	return s.orders.List(ctx, query)
}

// GetOrder возвращает заказ и его timeline.
func (s *Service) GetOrder(ctx context.Context, id string) (OrderView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return OrderView{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrOrderIDRequired)
	}

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return OrderView{}, err
	}

	view := OrderView{Order: order}
	if s.timeline == nil {
		return view, nil
	}

	events, err := s.timeline.List(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Warn("load order timeline failed")
		return view, nil
	}
	view.Timeline = events
	return view, nil
}

// UpdateLesson меняет разрешённые поля урока.
func (s *Service) UpdateLesson(ctx context.Context, id string, patch domain.LessonPatch) (domain.Lesson, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Lesson{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrItemLessonRequired)
	}
	if patch.Empty() {
		return domain.Lesson{}, fmt.Errorf("%w: no updatable fields", domain.ErrInvalidInput)
	}
	if errs := patch.Validate(); len(errs) > 0 {
		return domain.Lesson{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}

	logger := s.logger.WithField("lesson_id", id)
	if patch.Spaces != nil {
		if !s.allowSpaces {
			logger.WithField("spaces", *patch.Spaces).Warn("direct spaces edit rejected")
			return domain.Lesson{}, domain.ErrDirectCapacityEdit
		}
		s.metrics.RecordDirectCapacityEdit()
		logger.WithField("spaces", *patch.Spaces).Warn("direct spaces edit bypasses reservation")
	}

	lesson, err := s.lessons.Update(ctx, id, patch)
	if err != nil {
		return domain.Lesson{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	logger.Info("lesson updated")
	return lesson, nil
}

// SeedLessons создаёт уроки или обновляет описание существующих и сбрасывает кеш.
// Остаток мест у существующих уроков сохраняется.
func (s *Service) SeedLessons(ctx context.Context, lessons []domain.Lesson) error {
	for _, lesson := range lessons {
		if errs := lesson.Validate(); len(errs) > 0 {
			return fmt.Errorf("%w: lesson %q: %w", domain.ErrInvalidInput, lesson.ID, errors.Join(errs...))
		}
		if err := s.lessons.Upsert(ctx, lesson); err != nil {
			return fmt.Errorf("seed lesson %q: %w", lesson.ID, err)
		}
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.logger.WithField("count", len(lessons)).Info("lessons seeded")
	return nil
}
