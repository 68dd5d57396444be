package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/metrics"
)

const (
	operationCreate = "create_order"
	operationCancel = "cancel_order"
)

// CapacityObserver получает уведомление после изменения остатков мест.
type CapacityObserver interface {
	CapacityChanged(ctx context.Context, lessonIDs []string)
}

// ItemInput — позиция запроса на создание заказа.
type ItemInput struct {
	LessonID string
	Units    int32
}

// CreateOrderInput — запрос на создание заказа.
type CreateOrderInput struct {
	CustomerName  string
	CustomerPhone string
	Items         []ItemInput
}

// Validate проверяет запрос до обращения к хранилищам.
func (in CreateOrderInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.CustomerName) == "" {
		errs = append(errs, domain.ErrCustomerNameRequired)
	}
	if strings.TrimSpace(in.CustomerPhone) == "" {
		errs = append(errs, domain.ErrCustomerPhoneRequired)
	}
	if len(in.Items) == 0 {
		errs = append(errs, domain.ErrItemsRequired)
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.LessonID) == "" {
			errs = append(errs, domain.ErrItemLessonRequired)
		}
		if item.Units <= 0 {
			errs = append(errs, domain.ErrItemUnitsInvalid)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
}

// Options задаёт необязательные зависимости координатора.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.BookingMetrics
	Outbox   bool
	Timeline bool
	Observer CapacityObserver
	Retry    RetryConfig
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithOutbox включает запись событий в transactional outbox хранилища.
// Событие пишется через UnitOfWork в той же транзакции, что и заказ.
func WithOutbox() Option {
	return func(opts *Options) {
		opts.Outbox = true
	}
}

// WithTimeline включает запись событий жизненного цикла заказа в timeline хранилища.
func WithTimeline() Option {
	return func(opts *Options) {
		opts.Timeline = true
	}
}

// WithCapacityObserver подписывает observer на изменения остатков.
func WithCapacityObserver(observer CapacityObserver) Option {
	return func(opts *Options) {
		opts.Observer = observer
	}
}

// WithRetryConfig задаёт повторы компенсирующего возврата мест.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// Coordinator резервирует и возвращает места по принципу «всё или ничего».
// Создание заказа — сага с компенсациями, отмена — транзакция хранилища.
type Coordinator struct {
	capacity domain.CapacityStore
	orders   domain.OrderLedger
	tx       domain.Transactor
	outbox   bool
	timeline bool
	observer CapacityObserver
	logger   *log.Entry
	metrics  *metrics.BookingMetrics
	retry    RetryConfig
	now      func() time.Time
	newID    func() string
}

// NewCoordinator создаёт координатор поверх хранилища мест, журнала заказов и транзакций.
func NewCoordinator(capacity domain.CapacityStore, orders domain.OrderLedger, tx domain.Transactor, options ...Option) *Coordinator {
	opts := Options{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New().WithField("component", "booking-coordinator")
	}

	return &Coordinator{
		capacity: capacity,
		orders:   orders,
		tx:       tx,
		outbox:   opts.Outbox,
		timeline: opts.Timeline,
		observer: opts.Observer,
		logger:   logger,
		metrics:  opts.Metrics,
		retry:    opts.Retry.normalized(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// CreateOrder резервирует места по всем позициям и сохраняет активный заказ.
// Заказ и его событие фиксируются одной транзакцией; при первом отказе
// или ошибке записи все взятые резервы возвращаются.
func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if err := in.Validate(); err != nil {
		return domain.Order{}, err
	}

	// Начатая операция доводится до конца или откатывается даже при отмене запроса.
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	c.metrics.RecordOperationStarted()
	defer func() {
		c.metrics.RecordOperationFinished(operationCreate, time.Since(start))
	}()

	orderID := c.newID()
	logger := c.logger.WithField("order_id", orderID)

	reserved := make([]domain.Reservation, 0, len(in.Items))
	for _, item := range in.Items {
		lessonID := strings.TrimSpace(item.LessonID)
		res, err := c.capacity.TryReserve(ctx, lessonID, item.Units)
		if err != nil {
			c.unwind(ctx, orderID, reserved)

			if IsRejection(err) {
				reason := metrics.RejectCapacity
				if errors.Is(err, domain.ErrLessonNotFound) {
					reason = metrics.RejectNotFound
				}
				c.metrics.RecordReservationRejected(reason)
				c.emitUnwound(ctx, orderID, lessonID, err)
				logger.WithError(err).WithFields(log.Fields{
					"lesson_id": lessonID,
					"units":     item.Units,
				}).Info("reservation rejected")
				return domain.Order{}, &ReservationError{LessonID: lessonID, Cause: err}
			}

			c.metrics.RecordPersistFailure()
			logger.WithError(err).WithField("lesson_id", lessonID).Error("reserve failed")
			return domain.Order{}, fmt.Errorf("%w: reserve lesson %q: %w", domain.ErrPersistFailure, lessonID, err)
		}
		reserved = append(reserved, res)
	}

	now := c.now()
	order := domain.Order{
		ID:            orderID,
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(in.CustomerPhone),
		Status:        domain.OrderStatusActive,
		Items:         make([]domain.OrderItem, 0, len(reserved)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, res := range reserved {
		order.Items = append(order.Items, domain.OrderItem{
			LessonID:   res.LessonID,
			Units:      res.Units,
			PriceMinor: res.PriceMinor,
		})
		order.TotalMinor += int64(res.Units) * res.PriceMinor
	}

	err := c.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if err := uow.Orders().Create(ctx, order); err != nil {
			return err
		}
		return c.recordOrderEvent(ctx, uow, order, domain.TimelineOrderPlaced, "", now)
	})
	if err != nil {
		c.unwind(ctx, orderID, reserved)
		c.metrics.RecordPersistFailure()
		c.emitUnwound(ctx, orderID, "", err)
		logger.WithError(err).Error("persist order failed, reservations unwound")
		return domain.Order{}, fmt.Errorf("%w: create order: %w", domain.ErrPersistFailure, err)
	}

	c.eventsCommitted()
	c.notifyCapacity(ctx, order.Items)
	c.metrics.RecordOrderPlaced()

	logger.WithFields(log.Fields{
		"items":       len(order.Items),
		"total_minor": order.TotalMinor,
	}).Info("order placed")

	return order, nil
}

// CancelOrder возвращает места всех позиций и переводит заказ в cancelled одной транзакцией.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrOrderIDRequired)
	}

	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	c.metrics.RecordOperationStarted()
	defer func() {
		c.metrics.RecordOperationFinished(operationCancel, time.Since(start))
	}()

	logger := c.logger.WithField("order_id", orderID)

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: load order: %w", domain.ErrPersistFailure, err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, domain.ErrOrderAlreadyCancelled
	}

	now := c.now()
	cancelled := order
	cancelled.Status = domain.OrderStatusCancelled
	cancelled.UpdatedAt = now
	cancelled.CancelledAt = &now

	var skipped []string
	err = c.tx.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		// fn может выполняться повторно, если драйвер перезапускает транзакцию.
		skipped = skipped[:0]

		if err := uow.Orders().MarkCancelled(ctx, order.ID, now); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := uow.Capacity().Release(ctx, item.LessonID, item.Units); err != nil {
				if errors.Is(err, domain.ErrLessonNotFound) {
					skipped = append(skipped, item.LessonID)
					continue
				}
				return fmt.Errorf("release lesson %q: %w", item.LessonID, err)
			}
		}
		return c.recordOrderEvent(ctx, uow, cancelled, domain.TimelineOrderCancelled, "", now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderAlreadyCancelled) || errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, err
		}
		c.metrics.RecordPersistFailure()
		logger.WithError(err).Error("cancel order transaction failed")
		return domain.Order{}, fmt.Errorf("%w: cancel order: %w", domain.ErrPersistFailure, err)
	}

	for _, lessonID := range skipped {
		logger.WithField("lesson_id", lessonID).Warn("lesson no longer exists, seats not restored")
	}

	c.eventsCommitted()
	c.notifyCapacity(ctx, cancelled.Items)
	c.metrics.RecordOrderCancelled()

	logger.WithField("items", len(cancelled.Items)).Info("order cancelled")

	return cancelled, nil
}

// unwind возвращает взятые резервы в обратном порядке.
func (c *Coordinator) unwind(ctx context.Context, orderID string, reserved []domain.Reservation) {
	if len(reserved) == 0 {
		return
	}

	items := make([]domain.OrderItem, 0, len(reserved))
	for i := len(reserved) - 1; i >= 0; i-- {
		res := reserved[i]
		items = append(items, domain.OrderItem{LessonID: res.LessonID, Units: res.Units})

		c.metrics.RecordUnwind()
		if err := c.releaseWithRetry(ctx, res.LessonID, res.Units); err != nil {
			c.metrics.RecordReleaseFailure()
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id":  orderID,
				"lesson_id": res.LessonID,
				"units":     res.Units,
			}).Error("compensating release failed, seats leaked")
		}
	}

	c.notifyCapacity(ctx, items)
}

func (c *Coordinator) notifyCapacity(ctx context.Context, items []domain.OrderItem) {
	if c.observer == nil || len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.LessonID)
	}
	c.observer.CapacityChanged(ctx, ids)
}
