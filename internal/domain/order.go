package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusActive — места зарезервированы под заказ.
	OrderStatusActive OrderStatus = "active"
	// OrderStatusCancelled — заказ отменён, места возвращены.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	LessonID string
	// Units — количество забронированных мест.
	Units int32
	// PriceMinor — цена за место на момент резервирования.
	PriceMinor int64
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID            string
	CustomerName  string
	CustomerPhone string
	Status        OrderStatus
	TotalMinor    int64
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CancelledAt   *time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.CustomerName) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if strings.TrimSpace(o.CustomerPhone) == "" {
		errs = append(errs, ErrCustomerPhoneRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем сумму заказа с суммой позиций: units * price.
	var calc int64
	for _, item := range o.Items {
		if strings.TrimSpace(item.LessonID) == "" {
			errs = append(errs, ErrItemLessonRequired)
		}
		if item.Units <= 0 {
			errs = append(errs, ErrItemUnitsInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrPriceNegative)
		}
		calc += int64(item.Units) * item.PriceMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		dst.CancelledAt = &at
	}
	return dst
}

// Поля сортировки заказов.
const (
	OrderSortCreatedAt    = "created_at"
	OrderSortCustomerName = "customer_name"
	OrderSortTotal        = "total"
)

// OrderQuery задаёт фильтры и сортировку для выборки заказов.
type OrderQuery struct {
	Status  OrderStatus
	SortBy  string
	SortDir SortDirection
	Limit   int
}

// ValidOrderSort сообщает, поддерживается ли поле сортировки заказов.
func ValidOrderSort(field string) bool {
	switch field {
	case "", OrderSortCreatedAt, OrderSortCustomerName, OrderSortTotal:
		return true
	default:
		return false
	}
}
