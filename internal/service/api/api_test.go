package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		lessonID string
	}{
		{"invalid", fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrItemsRequired), CodeInvalidInput, ""},
		{"capacity", &booking.ReservationError{LessonID: "B", Cause: domain.ErrCapacityExceeded}, CodeCapacityExceeded, "B"},
		{"missing lesson in order", &booking.ReservationError{LessonID: "X", Cause: domain.ErrLessonNotFound}, CodeCapacityExceeded, "X"},
		{"lesson not found", domain.ErrLessonNotFound, CodeLessonNotFound, ""},
		{"order not found", fmt.Errorf("get: %w", domain.ErrOrderNotFound), CodeOrderNotFound, ""},
		{"already cancelled", domain.ErrOrderAlreadyCancelled, CodeAlreadyCancelled, ""},
		{"direct edit", domain.ErrDirectCapacityEdit, CodeDirectCapacityEdit, ""},
		{"hash mismatch", domain.ErrIdempotencyHashMismatch, CodeIdempotencyMismatch, ""},
		{"in progress", domain.ErrIdempotencyInProgress, CodeIdempotencyInProgress, ""},
		{"persist", fmt.Errorf("%w: connection reset", domain.ErrPersistFailure), CodePersistFailure, ""},
		{"unknown", errors.New("boom"), CodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := Classify(tt.err)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.lessonID, body.LessonID)
			assert.NotEmpty(t, body.Error)
		})
	}

	assert.NotContains(t, Classify(fmt.Errorf("%w: password=secret", domain.ErrPersistFailure)).Error, "secret")
}

func TestCreateOrderRequest_ToInput(t *testing.T) {
	var req CreateOrderRequest
	require.NoError(t, DecodeStrict([]byte(`{"customer_name":"Alice","customer_phone":"0123456789","items":[{"lesson_id":"L1","units":2}]}`), &req))

	in := req.ToInput()
	assert.Equal(t, "Alice", in.CustomerName)
	assert.Equal(t, []booking.ItemInput{{LessonID: "L1", Units: 2}}, in.Items)
}

func TestDecodeStrict_RejectsUnknownFields(t *testing.T) {
	var patch LessonPatchRequest
	err := DecodeStrict([]byte(`{"subject":"Math"}`), &patch)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = DecodeStrict([]byte(`{"title":"A"} {"title":"B"}`), &patch)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, DecodeStrict([]byte(`{"price":1500,"spaces":4}`), &patch))
	p := patch.ToPatch()
	require.NotNil(t, p.PriceMinor)
	assert.Equal(t, int64(1500), *p.PriceMinor)
	require.NotNil(t, p.Spaces)
	assert.Equal(t, int32(4), *p.Spaces)
	assert.Nil(t, p.Title)
}

func TestFromOrderView(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	view := catalog.OrderView{
		Order: domain.Order{
			ID:           "order-1",
			CustomerName: "Alice",
			Status:       domain.OrderStatusActive,
			TotalMinor:   3000,
			Items:        []domain.OrderItem{{LessonID: "L1", Units: 2, PriceMinor: 1500}},
			CreatedAt:    now,
		},
		Timeline: []domain.TimelineEvent{{OrderID: "order-1", Type: domain.TimelineOrderPlaced, Occurred: now}},
	}

	data, err := json.Marshal(FromOrderView(view))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "order-1", decoded["id"])
	assert.Equal(t, "active", decoded["status"])
	assert.Equal(t, 3000.0, decoded["total"])
	assert.NotContains(t, decoded, "cancelled_at")
	require.Len(t, decoded["timeline"], 1)
}

func TestLessonRoundTrip(t *testing.T) {
	lesson := domain.Lesson{ID: "L1", Subject: "Math", Location: "London", PriceMinor: 1000, Spaces: 5, Date: "2026-05-01"}
	assert.Equal(t, lesson, FromLesson(lesson).ToDomain())
}
