package domain

import "time"

// Типы событий жизненного цикла заказа.
const (
	TimelineOrderPlaced        = "OrderPlaced"
	TimelineOrderCancelled     = "OrderCancelled"
	TimelineReservationUnwound = "ReservationUnwound"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
