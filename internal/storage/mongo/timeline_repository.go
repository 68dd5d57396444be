package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

type timelineDocument struct {
	ID       primitive.ObjectID `bson:"_id"`
	OrderID  string             `bson:"order_id"`
	Type     string             `bson:"type"`
	Reason   string             `bson:"reason"`
	Occurred time.Time          `bson:"occurred"`
}

type timelineRepository struct {
	coll *mongo.Collection
}

// NewTimelineRepository создаёт MongoDB-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return store.Timeline()
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.coll.InsertOne(ctx, timelineDocument{
		ID:       primitive.NewObjectID(),
		OrderID:  event.OrderID,
		Type:     event.Type,
		Reason:   event.Reason,
		Occurred: event.Occurred,
	}); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}

	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "occurred", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]domain.TimelineEvent, 0)
	for cursor.Next(ctx) {
		var doc timelineDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode timeline event: %w", err)
		}
		events = append(events, domain.TimelineEvent{
			OrderID:  doc.OrderID,
			Type:     doc.Type,
			Reason:   doc.Reason,
			Occurred: doc.Occurred.UTC(),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}

	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
