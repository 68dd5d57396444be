package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// orderLedger — in-memory реализация OrderLedger.
type orderLedger struct {
	store *Store
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (l *orderLedger) Create(_ context.Context, order domain.Order) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	return l.store.createOrderLocked(order)
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (l *orderLedger) Get(_ context.Context, id string) (domain.Order, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()

	return l.store.getOrderLocked(id)
}

// MarkCancelled переводит активный заказ в cancelled.
func (l *orderLedger) MarkCancelled(_ context.Context, id string, at time.Time) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	return l.store.markCancelledLocked(id, at)
}

// List возвращает заказы, ограничивая выборку limit (если >0).
func (l *orderLedger) List(_ context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()

	return l.store.listOrdersLocked(query), nil
}

func (s *Store) createOrderLocked(order domain.Order) error {
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *Store) getOrderLocked(id string) (domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *Store) markCancelledLocked(id string, at time.Time) error {
	order, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.ErrOrderAlreadyCancelled
	}
	order = order.Clone()
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at
	order.CancelledAt = &at
	s.orders[id] = order
	return nil
}

func (s *Store) listOrdersLocked(query domain.OrderQuery) []domain.Order {
	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if query.Status != "" && order.Status != query.Status {
			continue
		}
		result = append(result, order.Clone())
	}

	sortOrders(result, query.SortBy, query.SortDir)

	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result
}

// sortOrders по умолчанию выдаёт новые заказы первыми.
func sortOrders(orders []domain.Order, by string, dir domain.SortDirection) {
	if by == "" {
		by = domain.OrderSortCreatedAt
		if dir == "" {
			dir = domain.SortDesc
		}
	}

	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		var cmp int
		switch by {
		case domain.OrderSortCustomerName:
			cmp = strings.Compare(strings.ToLower(a.CustomerName), strings.ToLower(b.CustomerName))
		case domain.OrderSortTotal:
			cmp = compareInt64(a.TotalMinor, b.TotalMinor)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			cmp = strings.Compare(a.ID, b.ID)
		}
		if dir == domain.SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})
}

var _ domain.OrderLedger = (*orderLedger)(nil)
