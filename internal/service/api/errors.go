package api

import (
	"errors"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
)

// Коды ошибок в теле ответа.
const (
	CodeInvalidInput          = "invalid_input"
	CodeLessonNotFound        = "lesson_not_found"
	CodeOrderNotFound         = "order_not_found"
	CodeCapacityExceeded      = "capacity_exceeded"
	CodeAlreadyCancelled      = "order_already_cancelled"
	CodeDirectCapacityEdit    = "direct_capacity_edit"
	CodePersistFailure        = "persist_failure"
	CodeIdempotencyMismatch   = "idempotency_key_reused"
	CodeIdempotencyInProgress = "idempotency_in_progress"
	CodeInternal              = "internal"
)

// ErrorBody — тело ответа с ошибкой.
type ErrorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	LessonID string `json:"lesson_id,omitempty"`
}

// Classify переводит ошибку сервиса в тело ответа.
// Сообщения сбоев хранилища наружу не отдаются.
func Classify(err error) ErrorBody {
	var rejection *booking.ReservationError

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return ErrorBody{Error: err.Error(), Code: CodeInvalidInput}
	case errors.As(err, &rejection):
		return ErrorBody{Error: err.Error(), Code: CodeCapacityExceeded, LessonID: rejection.LessonID}
	case errors.Is(err, domain.ErrCapacityExceeded):
		return ErrorBody{Error: err.Error(), Code: CodeCapacityExceeded}
	case errors.Is(err, domain.ErrLessonNotFound):
		return ErrorBody{Error: domain.ErrLessonNotFound.Error(), Code: CodeLessonNotFound}
	case errors.Is(err, domain.ErrOrderNotFound):
		return ErrorBody{Error: domain.ErrOrderNotFound.Error(), Code: CodeOrderNotFound}
	case errors.Is(err, domain.ErrOrderAlreadyCancelled):
		return ErrorBody{Error: domain.ErrOrderAlreadyCancelled.Error(), Code: CodeAlreadyCancelled}
	case errors.Is(err, domain.ErrDirectCapacityEdit):
		return ErrorBody{Error: domain.ErrDirectCapacityEdit.Error(), Code: CodeDirectCapacityEdit}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return ErrorBody{Error: domain.ErrIdempotencyHashMismatch.Error(), Code: CodeIdempotencyMismatch}
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return ErrorBody{Error: domain.ErrIdempotencyInProgress.Error(), Code: CodeIdempotencyInProgress}
	case errors.Is(err, domain.ErrPersistFailure):
		return ErrorBody{Error: "storage is temporarily unavailable", Code: CodePersistFailure}
	default:
		return ErrorBody{Error: "internal error", Code: CodeInternal}
	}
}
