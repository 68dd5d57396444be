package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

// lessonSortFields сопоставляет поля сортировки с полями документа.
var lessonSortFields = map[string]string{
	domain.LessonSortSubject:  "subject",
	domain.LessonSortLocation: "location",
	domain.LessonSortPrice:    "price_minor",
	domain.LessonSortSpaces:   "spaces",
	domain.LessonSortDate:     "date",
	domain.LessonSortTitle:    "title",
}

// caseInsensitive сравнивает строки без учёта регистра при сортировке.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type lessonDocument struct {
	ID          string    `bson:"_id"`
	Subject     string    `bson:"subject"`
	Location    string    `bson:"location"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	PriceMinor  int64     `bson:"price_minor"`
	Spaces      int32     `bson:"spaces"`
	Date        string    `bson:"date"`
	Image       string    `bson:"image"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d lessonDocument) toDomain() domain.Lesson {
	return domain.Lesson{
		ID:          d.ID,
		Subject:     d.Subject,
		Location:    d.Location,
		Title:       d.Title,
		Description: d.Description,
		PriceMinor:  d.PriceMinor,
		Spaces:      d.Spaces,
		Date:        d.Date,
		Image:       d.Image,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type capacityStore struct {
	coll *mongo.Collection
}

// TryReserve списывает места через FindOneAndUpdate с фильтром по остатку.
func (c *capacityStore) TryReserve(ctx context.Context, lessonID string, units int32) (domain.Reservation, error) {
	if units <= 0 {
		return domain.Reservation{}, fmt.Errorf("%w: units must be positive", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc lessonDocument
	err := c.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": lessonID, "spaces": bson.M{"$gte": units}},
		bson.M{
			"$inc": bson.M{"spaces": -units},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return domain.Reservation{
			LessonID:   lessonID,
			Units:      units,
			PriceMinor: doc.PriceMinor,
			Remaining:  doc.Spaces,
		}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Reservation{}, fmt.Errorf("reserve lesson spaces: %w", err)
	}

	count, err := c.coll.CountDocuments(ctx, bson.M{"_id": lessonID})
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("check lesson exists: %w", err)
	}
	if count == 0 {
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

	res, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": lessonID, "spaces": bson.M{"$lte": math.MaxInt32 - units}},
		bson.M{
			"$inc": bson.M{"spaces": units},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("release lesson spaces: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// не совпал фильтр: урока нет или остаток упёрся в int32
	n, err := c.coll.CountDocuments(ctx, bson.M{"_id": lessonID})
	if err != nil {
		return fmt.Errorf("check lesson after release: %w", err)
	}
	if n == 0 {
		return domain.ErrLessonNotFound
	}
	return domain.ErrSpacesOverflow
}

type lessonCatalog struct {
	coll *mongo.Collection
}

func (c *lessonCatalog) Get(ctx context.Context, id string) (domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc lessonDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Lesson{}, domain.ErrLessonNotFound
		}
		return domain.Lesson{}, fmt.Errorf("find lesson: %w", err)
	}
	return doc.toDomain(), nil
}

func (c *lessonCatalog) List(ctx context.Context, query domain.LessonQuery) ([]domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{}
	if query.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(query.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"subject": pattern},
			bson.M{"location": pattern},
			bson.M{"title": pattern},
		}
	}
	if query.MinSpaces > 0 {
		filter["spaces"] = bson.M{"$gte": query.MinSpaces}
	}
	if query.Date != "" {
		filter["date"] = query.Date
	}

	sort := bson.D{{Key: "_id", Value: 1}}
	if field, ok := lessonSortFields[query.SortBy]; ok {
		dir := 1
		if query.SortDir == domain.SortDesc {
			dir = -1
		}
		sort = bson.D{{Key: field, Value: dir}, {Key: "_id", Value: 1}}
	}

	cursor, err := c.coll.Find(ctx, filter, options.Find().SetSort(sort).SetCollation(caseInsensitive))
	if err != nil {
		return nil, fmt.Errorf("find lessons: %w", err)
	}

	var docs []lessonDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode lessons: %w", err)
	}

	lessons := make([]domain.Lesson, 0, len(docs))
	for _, doc := range docs {
		lessons = append(lessons, doc.toDomain())
	}
	return lessons, nil
}

// Update меняет только поля, заданные в патче.
func (c *lessonCatalog) Update(ctx context.Context, id string, patch domain.LessonPatch) (domain.Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.PriceMinor != nil {
		set["price_minor"] = *patch.PriceMinor
	}
	if patch.Date != nil {
		set["date"] = *patch.Date
	}
	if patch.Spaces != nil {
		set["spaces"] = *patch.Spaces
	}

	var doc lessonDocument
	err := c.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Lesson{}, domain.ErrLessonNotFound
		}
		return domain.Lesson{}, fmt.Errorf("update lesson: %w", err)
	}
	return doc.toDomain(), nil
}

func (c *lessonCatalog) Upsert(ctx context.Context, lesson domain.Lesson) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	createdAt := lesson.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": lesson.ID},
		bson.M{
			"$set": bson.M{
				"subject":     lesson.Subject,
				"location":    lesson.Location,
				"title":       lesson.Title,
				"description": lesson.Description,
				"price_minor": lesson.PriceMinor,
				"date":        lesson.Date,
				"image":       lesson.Image,
				"updated_at":  now,
			},
			"$setOnInsert": bson.M{
				"spaces":     lesson.Spaces,
				"created_at": createdAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert lesson: %w", err)
	}
	return nil
}

var (
	_ domain.CapacityStore = (*capacityStore)(nil)
	_ domain.LessonCatalog = (*lessonCatalog)(nil)
)
