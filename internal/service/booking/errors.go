package booking

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// ReservationError описывает отказ в резервировании мест по конкретному уроку.
// Совпадает с domain.ErrCapacityExceeded, а при отсутствии урока — ещё и с domain.ErrLessonNotFound.
type ReservationError struct {
	LessonID string
	Cause    error
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reserve lesson %q: %v", e.LessonID, e.Cause)
}

// Unwrap позволяет errors.Is/As видеть и общий отказ, и конкретную причину.
func (e *ReservationError) Unwrap() []error {
	return []error{domain.ErrCapacityExceeded, e.Cause}
}

// IsRejection сообщает, что ошибка TryReserve — штатный отказ, а не сбой хранилища.
func IsRejection(err error) bool {
	return errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrLessonNotFound)
}
