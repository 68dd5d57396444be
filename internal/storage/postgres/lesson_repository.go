package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

const lessonColumns = `id, subject, location, title, description, price_minor, spaces, lesson_date, image, created_at, updated_at`

// lessonSortColumns — белый список колонок для ORDER BY.
var lessonSortColumns = map[string]string{
	domain.LessonSortSubject:  "lower(subject)",
	domain.LessonSortLocation: "lower(location)",
	domain.LessonSortPrice:    "price_minor",
	domain.LessonSortSpaces:   "spaces",
	domain.LessonSortDate:     "lesson_date",
	domain.LessonSortTitle:    "lower(title)",
}

type capacityStore struct {
	q querier
}

// TryReserve списывает места одним условным UPDATE.
func (c *capacityStore) TryReserve(ctx context.Context, lessonID string, units int32) (domain.Reservation, error) {
	if units <= 0 {
		return domain.Reservation{}, fmt.Errorf("%w: units must be positive", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res := domain.Reservation{LessonID: lessonID, Units: units}
	err := c.q.QueryRowContext(ctx, `
		UPDATE lessons
		SET spaces = spaces - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND spaces >= $2
		RETURNING price_minor, spaces
	`, lessonID, units).Scan(&res.PriceMinor, &res.Remaining)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, fmt.Errorf("reserve lesson spaces: %w", err)
	}

	exists, err := lessonExists(ctx, c.q, lessonID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !exists {
		return domain.Reservation{}, domain.ErrLessonNotFound
	}
	return domain.Reservation{}, domain.ErrCapacityExceeded
}

// Release возвращает места без верхней границы.
func (c *capacityStore) Release(ctx context.Context, lessonID string, units int32) error {
	if units <= 0 {
		return fmt.Errorf("%w: units must be positive", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := c.q.ExecContext(ctx, `
		UPDATE lessons
		SET spaces = spaces + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, lessonID, units)
	if err != nil {
		if isNumericOutOfRange(err) {
			return domain.ErrSpacesOverflow
		}
		return fmt.Errorf("release lesson spaces: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrLessonNotFound
	}
	return nil
}

type lessonCatalog struct {
	q querier
}

func (c *lessonCatalog) Get(ctx context.Context, id string) (domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lesson, err := scanLesson(c.q.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Lesson{}, domain.ErrLessonNotFound
		}
		return domain.Lesson{}, fmt.Errorf("select lesson: %w", err)
	}
	return lesson, nil
}

func (c *lessonCatalog) List(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	orderBy := "id ASC"
	if column, ok := lessonSortColumns[query.SortBy]; ok {
		dir := "ASC"
		if query.SortDir == domain.SortDesc {
			dir = "DESC"
		}
		orderBy = fmt.Sprintf("%s %s, id ASC", column, dir)
	}

	rows, err := c.q.QueryContext(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE ($1 = '' OR strpos(lower(subject), lower($1)) > 0
		                OR strpos(lower(location), lower($1)) > 0
		                OR strpos(lower(title), lower($1)) > 0)
		  AND spaces >= $2
		  AND ($3 = '' OR lesson_date = $3)
		ORDER BY `+orderBy,
		query.Search, query.MinSpaces, query.Date,
	)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	lessons := make([]domain.Lesson, 0)
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson row: %w", err)
		}
		lessons = append(lessons, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson rows: %w", err)
	}
	return lessons, nil
}

// Update меняет только поля, заданные в патче.
func (c *lessonCatalog) Update(ctx context.Context, id string, patch domain.LessonPatch) (domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lesson, err := scanLesson(c.q.QueryRowContext(ctx, `
		UPDATE lessons
		SET title = COALESCE($2, title),
		    description = COALESCE($3, description),
		    price_minor = COALESCE($4, price_minor),
		    lesson_date = COALESCE($5, lesson_date),
		    spaces = COALESCE($6, spaces),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+lessonColumns,
		id,
		nullString(patch.Title),
		nullString(patch.Description),
		nullInt64(patch.PriceMinor),
		nullString(patch.Date),
		nullInt32(patch.Spaces),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Lesson{}, domain.ErrLessonNotFound
		}
		return domain.Lesson{}, fmt.Errorf("update lesson: %w", err)
	}
	return lesson, nil
}

func (c *lessonCatalog) Upsert(ctx context.Context, lesson domain.Lesson) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = now
	}

	if _, err := c.q.ExecContext(ctx, `
		INSERT INTO lessons (`+lessonColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE
		SET subject = EXCLUDED.subject,
		    location = EXCLUDED.location,
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    price_minor = EXCLUDED.price_minor,
		    lesson_date = EXCLUDED.lesson_date,
		    image = EXCLUDED.image,
		    updated_at = EXCLUDED.updated_at
	`,
		lesson.ID, lesson.Subject, lesson.Location, lesson.Title, lesson.Description,
		lesson.PriceMinor, lesson.Spaces, lesson.Date, lesson.Image, lesson.CreatedAt, now,
	); err != nil {
		return fmt.Errorf("upsert lesson: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (domain.Lesson, error) {
	var lesson domain.Lesson
	err := row.Scan(
		&lesson.ID, &lesson.Subject, &lesson.Location, &lesson.Title, &lesson.Description,
		&lesson.PriceMinor, &lesson.Spaces, &lesson.Date, &lesson.Image,
		&lesson.CreatedAt, &lesson.UpdatedAt,
	)
	return lesson, err
}

func lessonExists(ctx context.Context, q querier, id string) (bool, error) {
	var found string
	err := q.QueryRowContext(ctx, `SELECT id FROM lessons WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check lesson exists: %w", err)
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt32(v *int32) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *v, Valid: true}
}

var (
	_ domain.CapacityStore = (*capacityStore)(nil)
	_ domain.LessonCatalog = (*lessonCatalog)(nil)
)
