package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

var orderSortFields = map[string]string{
	domain.OrderSortCreatedAt:    "created_at",
	domain.OrderSortCustomerName: "customer_name",
	domain.OrderSortTotal:        "total_minor",
}

type orderItemDocument struct {
	LessonID   string `bson:"lesson_id"`
	Units      int32  `bson:"units"`
	PriceMinor int64  `bson:"price_minor"`
}

type orderDocument struct {
	ID            string              `bson:"_id"`
	CustomerName  string              `bson:"customer_name"`
	CustomerPhone string              `bson:"customer_phone"`
	Status        string              `bson:"status"`
	TotalMinor    int64               `bson:"total_minor"`
	Items         []orderItemDocument `bson:"items"`
	CreatedAt     time.Time           `bson:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at"`
	CancelledAt   *time.Time          `bson:"cancelled_at,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			LessonID:   item.LessonID,
			Units:      item.Units,
			PriceMinor: item.PriceMinor,
		})
	}
	return orderDocument{
		ID:            order.ID,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		Status:        string(order.Status),
		TotalMinor:    order.TotalMinor,
		Items:         items,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
		CancelledAt:   order.CancelledAt,
	}
}

func (d orderDocument) toDomain() domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			LessonID:   item.LessonID,
			Units:      item.Units,
			PriceMinor: item.PriceMinor,
		})
	}
	order := domain.Order{
		ID:            d.ID,
		CustomerName:  d.CustomerName,
		CustomerPhone: d.CustomerPhone,
		Status:        domain.OrderStatus(d.Status),
		TotalMinor:    d.TotalMinor,
		Items:         items,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.CancelledAt != nil {
		at := d.CancelledAt.UTC()
		order.CancelledAt = &at
	}
	return order
}

type orderLedger struct {
	coll *mongo.Collection
}

// Create вставляет документ заказа вместе с позициями.
func (r *orderLedger) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, newOrderDocument(order)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderLedger) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc orderDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain(), nil
}

// MarkCancelled условно обновляет статус только у активного заказа.
func (r *orderLedger) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(domain.OrderStatusActive)},
		bson.M{"$set": bson.M{
			"status":       string(domain.OrderStatusCancelled),
			"updated_at":   at,
			"cancelled_at": at,
		}},
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderAlreadyCancelled
}

func (r *orderLedger) List(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{}
	if query.Status != "" {
		filter["status"] = string(query.Status)
	}

	field, ok := orderSortFields[query.SortBy]
	if !ok {
		field = "created_at"
	}
	dir := 1
	if query.SortDir == domain.SortDesc || (query.SortBy == "" && query.SortDir == "") {
		dir = -1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: dir}, {Key: "_id", Value: dir}}).
		SetCollation(caseInsensitive)
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return orders, nil
}

var _ domain.OrderLedger = (*orderLedger)(nil)
