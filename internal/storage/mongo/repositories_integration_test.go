package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
)

func TestOutbox_MongoPullPendingInOrder(t *testing.T) {
	store := openMongoStoreForIntegrationTest(t)
	ctx := context.Background()
	repo := NewOutboxRepository(store)

	ids := make([]string, 0, 3)
	for _, aggregateID := range []string{"order-1", "order-2", "order-3"} {
		msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   aggregateID,
			EventType:     domain.TimelineOrderPlaced,
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	pending, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, ids[0], pending[0].ID)
	require.Equal(t, ids[1], pending[1].ID)

	require.NoError(t, repo.MarkSent(ctx, ids[0]))
	require.NoError(t, repo.MarkFailed(ctx, ids[1]))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())
}

func TestTimeline_MongoAppendAndList(t *testing.T) {
	store := openMongoStoreForIntegrationTest(t)
	ctx := context.Background()
	repo := NewTimelineRepository(store)

	placed := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderPlaced, Occurred: placed}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderCancelled, Reason: "customer"}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "order-2", Type: domain.TimelineOrderPlaced}))

	events, err := repo.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderPlaced, events[0].Type)
	require.True(t, placed.Equal(events[0].Occurred))
	require.Equal(t, "customer", events[1].Reason)
}

func TestIdempotency_MongoLifecycle(t *testing.T) {
	store := openMongoStoreForIntegrationTest(t)
	ctx := context.Background()
	repo := NewIdempotencyRepository(store)

	record, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-1", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"id":"order-1"}`), 201))
	record, err = repo.Get(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
	require.Equal(t, 201, record.ResponseCode)
	require.JSONEq(t, `{"id":"order-1"}`, string(record.ResponseBody))

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)

	_, err = repo.CreateProcessing(ctx, "key-expired", "hash", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	deleted, err := repo.DeleteExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, "key-expired")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}
