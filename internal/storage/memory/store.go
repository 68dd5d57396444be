package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// Store — in-memory хранилище уроков и заказов для локальной разработки и тестов.
// Один мьютекс защищает обе коллекции: он играет роль блокировки строк в БД,
// поэтому условное списание мест и транзакции атомарны.
// Outbox и timeline живут рядом, чтобы события фиксировались в той же транзакции.
type Store struct {
	mu       sync.RWMutex
	lessons  map[string]domain.Lesson
	orders   map[string]domain.Order
	outbox   *OutboxRepository
	timeline *timelineRepository
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		lessons:  make(map[string]domain.Lesson),
		orders:   make(map[string]domain.Order),
		outbox:   NewOutboxRepository(),
		timeline: newTimelineRepository(),
	}
}

// Capacity возвращает CapacityStore поверх хранилища.
func (s *Store) Capacity() domain.CapacityStore {
	return &capacityStore{store: s}
}

// Orders возвращает журнал заказов.
func (s *Store) Orders() domain.OrderLedger {
	return &orderLedger{store: s}
}

// Outbox возвращает outbox хранилища; его же заполняют транзакции WithinTx.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// Timeline возвращает timeline заказов хранилища.
func (s *Store) Timeline() domain.TimelineRepository {
	return s.timeline
}

// Lessons возвращает каталог уроков.
func (s *Store) Lessons() domain.LessonCatalog {
	return &lessonCatalog{store: s}
}

// Ping нужен для health-check и всегда успешен.
func (s *Store) Ping(context.Context) error {
	return nil
}

// WithinTx выполняет fn под эксклюзивной блокировкой и откатывает изменения при ошибке.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unit := &txUnit{store: s}
	defer func() {
		if p := recover(); p != nil {
			unit.rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, unit); err != nil {
		unit.rollback()
		return err
	}
	return nil
}

// txUnit выполняет операции при уже захваченной блокировке и копит журнал отката.
type txUnit struct {
	store *Store
	undo  []func()
}

func (u *txUnit) Capacity() domain.CapacityStore { return &txCapacity{unit: u} }

func (u *txUnit) Orders() domain.OrderLedger { return &txLedger{unit: u} }

func (u *txUnit) Outbox() domain.OutboxRepository { return &txOutbox{OutboxRepository: u.store.outbox, unit: u} }

func (u *txUnit) Timeline() domain.TimelineRepository { return &txTimeline{unit: u} }

func (u *txUnit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

type txCapacity struct {
	unit *txUnit
}

func (c *txCapacity) TryReserve(_ context.Context, lessonID string, units int32) (domain.Reservation, error) {
	res, err := c.unit.store.tryReserveLocked(lessonID, units)
	if err != nil {
		return domain.Reservation{}, err
	}
	c.unit.undo = append(c.unit.undo, func() {
		_ = c.unit.store.releaseLocked(lessonID, units)
	})
	return res, nil
}

func (c *txCapacity) Release(_ context.Context, lessonID string, units int32) error {
	if err := c.unit.store.releaseLocked(lessonID, units); err != nil {
		return err
	}
	c.unit.undo = append(c.unit.undo, func() {
		_ = c.unit.store.adjustLocked(lessonID, -units)
	})
	return nil
}

// txOutbox пишет события в outbox хранилища и снимает их при откате.
type txOutbox struct {
	*OutboxRepository
	unit *txUnit
}

func (o *txOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	stored, err := o.OutboxRepository.Enqueue(ctx, msg)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	o.unit.undo = append(o.unit.undo, func() {
		o.OutboxRepository.remove(stored.ID)
	})
	return stored, nil
}

type txTimeline struct {
	unit *txUnit
}

func (t *txTimeline) Append(ctx context.Context, event domain.TimelineEvent) error {
	timeline := t.unit.store.timeline
	if err := timeline.Append(ctx, event); err != nil {
		return err
	}
	t.unit.undo = append(t.unit.undo, func() {
		timeline.remove(event)
	})
	return nil
}

func (t *txTimeline) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return t.unit.store.timeline.List(ctx, orderID)
}

type txLedger struct {
	unit *txUnit
}

func (l *txLedger) Create(_ context.Context, order domain.Order) error {
	if err := l.unit.store.createOrderLocked(order); err != nil {
		return err
	}
	l.unit.undo = append(l.unit.undo, func() {
		delete(l.unit.store.orders, order.ID)
	})
	return nil
}

func (l *txLedger) Get(_ context.Context, id string) (domain.Order, error) {
	return l.unit.store.getOrderLocked(id)
}

func (l *txLedger) MarkCancelled(_ context.Context, id string, at time.Time) error {
	previous, ok := l.unit.store.orders[id]
	if err := l.unit.store.markCancelledLocked(id, at); err != nil {
		return err
	}
	if ok {
		l.unit.undo = append(l.unit.undo, func() {
			l.unit.store.orders[id] = previous
		})
	}
	return nil
}

func (l *txLedger) List(_ context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	return l.unit.store.listOrdersLocked(query), nil
}

var (
	_ domain.Transactor = (*Store)(nil)
	_ domain.UnitOfWork = (*txUnit)(nil)
)

func (s *Store) tryReserveLocked(lessonID string, units int32) (domain.Reservation, error) {
	if units <= 0 {
		return domain.Reservation{}, fmt.Errorf("%w: units must be positive", domain.ErrInvalidInput)
	}
	lesson, ok := s.lessons[lessonID]
	if !ok {
		return domain.Reservation{}, domain.ErrLessonNotFound
	}
	if lesson.Spaces < units {
		return domain.Reservation{}, domain.ErrCapacityExceeded
	}
	lesson.Spaces -= units
	s.lessons[lessonID] = lesson
	return domain.Reservation{
		LessonID:   lessonID,
		Units:      units,
		PriceMinor: lesson.PriceMinor,
		Remaining:  lesson.Spaces,
	}, nil
}

func (s *Store) releaseLocked(lessonID string, units int32) error {
	if units <= 0 {
		return fmt.Errorf("%w: units must be positive", domain.ErrInvalidInput)
	}
	if _, ok := s.lessons[lessonID]; !ok {
		return domain.ErrLessonNotFound
	}
	return s.adjustLocked(lessonID, units)
}

// adjustLocked сдвигает остаток на delta; выход за пределы int32 — ErrSpacesOverflow.
func (s *Store) adjustLocked(lessonID string, delta int32) error {
	lesson, ok := s.lessons[lessonID]
	if !ok {
		return domain.ErrLessonNotFound
	}
	next := int64(lesson.Spaces) + int64(delta)
	if next > math.MaxInt32 || next < math.MinInt32 {
		return domain.ErrSpacesOverflow
	}
	lesson.Spaces = int32(next)
	s.lessons[lessonID] = lesson
	return nil
}
