package domain

import (
	"strings"
	"time"
)

// DateLayout — формат даты урока.
const DateLayout = "2006-01-02"

// Lesson описывает предложение урока с остатком свободных мест.
type Lesson struct {
	ID          string
	Subject     string
	Location    string
	Title       string
	Description string
	// PriceMinor — цена за место в минимальных денежных единицах.
	PriceMinor int64
	// Spaces — остаток свободных мест. Меняется только через CapacityStore.
	Spaces int32
	// Date — дата проведения в формате YYYY-MM-DD, может быть пустой.
	Date      string
	Image     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет базовые инварианты урока.
func (l *Lesson) Validate() []error {
	var errs []error

	if strings.TrimSpace(l.ID) == "" {
		errs = append(errs, ErrItemLessonRequired)
	}
	if l.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if l.Spaces < 0 {
		errs = append(errs, ErrSpacesNegative)
	}
	if err := ValidateDate(l.Date); err != nil {
		errs = append(errs, err)
	}

	return errs
}

// ValidateDate допускает пустую дату либо строку формата YYYY-MM-DD.
func ValidateDate(date string) error {
	if date == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return ErrDateInvalid
	}
	return nil
}

// Reservation — результат успешного условного списания мест.
type Reservation struct {
	LessonID   string
	Units      int32
	PriceMinor int64
	// Remaining — остаток мест после списания.
	Remaining int32
}

// LessonPatch перечисляет поля урока, которые можно менять через каталог.
// nil означает «не менять».
type LessonPatch struct {
	Title       *string
	Description *string
	PriceMinor  *int64
	Date        *string
	// Spaces — прямая запись остатка в обход резервирования.
	Spaces *int32
}

// Empty сообщает, что патч ничего не меняет.
func (p LessonPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.PriceMinor == nil && p.Date == nil && p.Spaces == nil
}

// Validate проверяет значения патча.
func (p LessonPatch) Validate() []error {
	var errs []error
	if p.PriceMinor != nil && *p.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if p.Spaces != nil && *p.Spaces < 0 {
		errs = append(errs, ErrSpacesNegative)
	}
	if p.Date != nil {
		if err := ValidateDate(*p.Date); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Apply применяет патч к копии урока.
func (p LessonPatch) Apply(l Lesson) Lesson {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.PriceMinor != nil {
		l.PriceMinor = *p.PriceMinor
	}
	if p.Date != nil {
		l.Date = *p.Date
	}
	if p.Spaces != nil {
		l.Spaces = *p.Spaces
	}
	return l
}

// SortDirection — направление сортировки выборок.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Поля сортировки уроков.
const (
	LessonSortSubject  = "subject"
	LessonSortLocation = "location"
	LessonSortPrice    = "price"
	LessonSortSpaces   = "spaces"
	LessonSortDate     = "date"
	LessonSortTitle    = "title"
)

// LessonQuery задаёт фильтры и сортировку для выборки уроков.
type LessonQuery struct {
	// Search — подстрока (без учёта регистра) в subject, location или title.
	Search string
	// MinSpaces — минимальный остаток мест; 0 отключает фильтр.
	MinSpaces int32
	// Date — точное совпадение даты.
	Date    string
	SortBy  string
	SortDir SortDirection
}

// Matches проверяет урок на соответствие фильтрам запроса.
func (q LessonQuery) Matches(l Lesson) bool {
	if q.MinSpaces > 0 && l.Spaces < q.MinSpaces {
		return false
	}
	if q.Date != "" && l.Date != q.Date {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	return strings.Contains(strings.ToLower(l.Subject), needle) ||
		strings.Contains(strings.ToLower(l.Location), needle) ||
		strings.Contains(strings.ToLower(l.Title), needle)
}

// ValidLessonSort сообщает, поддерживается ли поле сортировки уроков.
func ValidLessonSort(field string) bool {
	switch field {
	case "", LessonSortSubject, LessonSortLocation, LessonSortPrice, LessonSortSpaces, LessonSortDate, LessonSortTitle:
		return true
	default:
		return false
	}
}

// ValidSortDirection сообщает, поддерживается ли направление сортировки.
func ValidSortDirection(dir SortDirection) bool {
	return dir == "" || dir == SortAsc || dir == SortDesc
}
