package api

import (
	"context"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
)

// Coordinator — операции, меняющие остатки мест.
type Coordinator interface {
	CreateOrder(ctx context.Context, in booking.CreateOrderInput) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Catalog — чтение уроков и заказов и правка описательных полей урока.
type Catalog interface {
	ListLessons(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, error)
	GetLesson(ctx context.Context, id string) (domain.Lesson, error)
	ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error)
	GetOrder(ctx context.Context, id string) (catalog.OrderView, error)
	UpdateLesson(ctx context.Context, id string, patch domain.LessonPatch) (domain.Lesson, error)
}

var (
	_ Coordinator = (*booking.Coordinator)(nil)
	_ Catalog     = (*catalog.Service)(nil)
)
