package domain

import "errors"

var (
	// ErrInvalidInput — некорректный или неполный запрос; хранилище не трогаем.
	ErrInvalidInput = errors.New("invalid input")
	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствующего телефона клиента.
	ErrCustomerPhoneRequired = errors.New("customer phone is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора урока в позиции.
	ErrItemLessonRequired = errors.New("item lesson_id is required")
	// Ошибка при некорректном количестве мест (<= 0).
	ErrItemUnitsInvalid = errors.New("item units must be greater than zero")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка отрицательной цены урока.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отрицательного количества мест в уроке.
	ErrSpacesNegative = errors.New("spaces must be non-negative")
	// Ошибка некорректной даты урока (ожидается YYYY-MM-DD).
	ErrDateInvalid = errors.New("date must be in YYYY-MM-DD format")
	// ErrOrderIDRequired — пустой идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrLessonNotFound возвращается, если урок не найден в хранилище.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrOrderNotFound возвращается, если заказ не найден в журнале.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже записан.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderAlreadyCancelled — повторная отмена заказа.
	ErrOrderAlreadyCancelled = errors.New("order already cancelled")
	// ErrSpacesOverflow — возврат мест вывел бы остаток за пределы int32.
	ErrSpacesOverflow = errors.New("lesson spaces overflow")
	// ErrCapacityExceeded — в уроке не хватает свободных мест.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrPersistFailure — хранилище не смогло зафиксировать единицу работы.
	ErrPersistFailure = errors.New("persist failure")
	// ErrDirectCapacityEdit — прямое изменение spaces в обход резервирования запрещено.
	ErrDirectCapacityEdit = errors.New("direct capacity edit is not allowed")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, относится ли ошибка к отсутствующему уроку или заказу.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLessonNotFound) || errors.Is(err, ErrOrderNotFound)
}
