package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// capacityStore — атомарные операции над остатком мест.
type capacityStore struct {
	store *Store
}

// TryReserve списывает места, если остатка хватает.
func (c *capacityStore) TryReserve(_ context.Context, lessonID string, units int32) (domain.Reservation, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	return c.store.tryReserveLocked(lessonID, units)
}

// Release возвращает места без проверки верхней границы.
func (c *capacityStore) Release(_ context.Context, lessonID string, units int32) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	return c.store.releaseLocked(lessonID, units)
}

// lessonCatalog — чтение и редактирование уроков.
type lessonCatalog struct {
	store *Store
}

// Get возвращает урок или ErrLessonNotFound.
func (c *lessonCatalog) Get(_ context.Context, id string) (domain.Lesson, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	lesson, ok := c.store.lessons[id]
	if !ok {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	return lesson, nil
}

// List фильтрует и сортирует уроки.
func (c *lessonCatalog) List(_ context.Context, query domain.LessonQuery) ([]domain.Lesson, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	result := make([]domain.Lesson, 0, len(c.store.lessons))
	for _, lesson := range c.store.lessons {
		if query.Matches(lesson) {
			result = append(result, lesson)
		}
	}

	sortLessons(result, query.SortBy, query.SortDir)
	return result, nil
}

// Update применяет патч к уроку.
func (c *lessonCatalog) Update(_ context.Context, id string, patch domain.LessonPatch) (domain.Lesson, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	lesson, ok := c.store.lessons[id]
	if !ok {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	lesson = patch.Apply(lesson)
	lesson.UpdatedAt = time.Now().UTC()
	c.store.lessons[id] = lesson
	return lesson, nil
}

// Upsert создаёт урок или обновляет описание существующего; остаток мест не трогает.
func (c *lessonCatalog) Upsert(_ context.Context, lesson domain.Lesson) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := c.store.lessons[lesson.ID]; ok {
		lesson.Spaces = existing.Spaces
		if lesson.CreatedAt.IsZero() {
			lesson.CreatedAt = existing.CreatedAt
		}
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}
	lesson.UpdatedAt = now
	c.store.lessons[lesson.ID] = lesson
	return nil
}

// sortLessons сортирует уроки стабильно; при равенстве ключей — по ID.
func sortLessons(lessons []domain.Lesson, by string, dir domain.SortDirection) {
	less := func(a, b domain.Lesson) int {
		switch by {
		case domain.LessonSortLocation:
			return strings.Compare(strings.ToLower(a.Location), strings.ToLower(b.Location))
		case domain.LessonSortPrice:
			return compareInt64(a.PriceMinor, b.PriceMinor)
		case domain.LessonSortSpaces:
			return compareInt64(int64(a.Spaces), int64(b.Spaces))
		case domain.LessonSortDate:
			return strings.Compare(a.Date, b.Date)
		case domain.LessonSortTitle:
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case domain.LessonSortSubject:
			return strings.Compare(strings.ToLower(a.Subject), strings.ToLower(b.Subject))
		default:
			return 0
		}
	}

	sort.SliceStable(lessons, func(i, j int) bool {
		cmp := less(lessons[i], lessons[j])
		if cmp == 0 {
			return lessons[i].ID < lessons[j].ID
		}
		if dir == domain.SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var (
	_ domain.CapacityStore = (*capacityStore)(nil)
	_ domain.LessonCatalog = (*lessonCatalog)(nil)
)
