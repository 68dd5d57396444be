// Package api описывает JSON-представление уроков и заказов, общее для HTTP и gRPC.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
)

// Lesson — урок в ответах API и в seed-файле.
type Lesson struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Location    string    `json:"location"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Spaces      int32     `json:"spaces"`
	Date        string    `json:"date,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromLesson строит представление урока.
func FromLesson(l domain.Lesson) Lesson {
	return Lesson{
		ID:          l.ID,
		Subject:     l.Subject,
		Location:    l.Location,
		Title:       l.Title,
		Description: l.Description,
		Price:       l.PriceMinor,
		Spaces:      l.Spaces,
		Date:        l.Date,
		Image:       l.Image,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// FromLessons строит представления списка уроков.
func FromLessons(lessons []domain.Lesson) []Lesson {
	out := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, FromLesson(l))
	}
	return out
}

// ToDomain переводит урок из seed-файла в доменную модель.
func (l Lesson) ToDomain() domain.Lesson {
	return domain.Lesson{
		ID:          l.ID,
		Subject:     l.Subject,
		Location:    l.Location,
		Title:       l.Title,
		Description: l.Description,
		PriceMinor:  l.Price,
		Spaces:      l.Spaces,
		Date:        l.Date,
		Image:       l.Image,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

// OrderItem — позиция заказа.
type OrderItem struct {
	LessonID string `json:"lesson_id"`
	Units    int32  `json:"units"`
	Price    int64  `json:"price,omitempty"`
}

// Order — заказ в ответах API.
type Order struct {
	ID            string      `json:"id"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	Status        string      `json:"status"`
	Total         int64       `json:"total"`
	Items         []OrderItem `json:"items"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CancelledAt   *time.Time  `json:"cancelled_at,omitempty"`
}

// FromOrder строит представление заказа.
func FromOrder(o domain.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{LessonID: item.LessonID, Units: item.Units, Price: item.PriceMinor})
	}
	return Order{
		ID:            o.ID,
		CustomerName:  o.CustomerName,
		CustomerPhone: o.CustomerPhone,
		Status:        string(o.Status),
		Total:         o.TotalMinor,
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		CancelledAt:   o.CancelledAt,
	}
}

// FromOrders строит представления списка заказов.
func FromOrders(orders []domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

// TimelineEvent — событие жизненного цикла заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// OrderDetails — заказ вместе с его timeline.
type OrderDetails struct {
	Order
	Timeline []TimelineEvent `json:"timeline"`
}

// FromOrderView строит детальное представление заказа.
func FromOrderView(view catalog.OrderView) OrderDetails {
	timeline := make([]TimelineEvent, 0, len(view.Timeline))
	for _, ev := range view.Timeline {
		timeline = append(timeline, TimelineEvent{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	return OrderDetails{Order: FromOrder(view.Order), Timeline: timeline}
}

// CreateOrderRequest — тело запроса на создание заказа.
type CreateOrderRequest struct {
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	Items         []OrderItem `json:"items"`
}

// ToInput переводит запрос во вход координатора. Цена позиции из запроса игнорируется.
func (r CreateOrderRequest) ToInput() booking.CreateOrderInput {
	items := make([]booking.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, booking.ItemInput{LessonID: item.LessonID, Units: item.Units})
	}
	return booking.CreateOrderInput{
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Items:         items,
	}
}

// LessonPatchRequest — тело запроса на изменение урока.
type LessonPatchRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Price       *int64  `json:"price,omitempty"`
	Date        *string `json:"date,omitempty"`
	Spaces      *int32  `json:"spaces,omitempty"`
}

// ToPatch переводит запрос в доменный патч.
func (r LessonPatchRequest) ToPatch() domain.LessonPatch {
	return domain.LessonPatch{
		Title:       r.Title,
		Description: r.Description,
		PriceMinor:  r.Price,
		Date:        r.Date,
		Spaces:      r.Spaces,
	}
}

// DecodeStrict разбирает JSON и отклоняет поля, которых нет в dst.
func DecodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON body", domain.ErrInvalidInput)
	}
	return nil
}
