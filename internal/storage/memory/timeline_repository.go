package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// timelineRepository хранит события заказов в памяти.
type timelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return newTimelineRepository()
}

func newTimelineRepository() *timelineRepository {
	return &timelineRepository{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.events[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

// remove снимает последнее совпадающее событие.
func (r *timelineRepository) remove(event domain.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events[event.OrderID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i] == event {
			events = append(events[:i], events[i+1:]...)
			break
		}
	}
	if len(events) == 0 {
		delete(r.events, event.OrderID)
		return
	}
	r.events[event.OrderID] = events
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
