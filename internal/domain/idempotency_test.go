package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, status := range []IdempotencyStatus{
		IdempotencyStatusProcessing,
		IdempotencyStatusDone,
		IdempotencyStatusFailed,
	} {
		assert.True(t, status.Valid(), status)
	}
	assert.False(t, IdempotencyStatus("").Valid())
	assert.False(t, IdempotencyStatus("cancelled").Valid())
}

func TestIsIdempotencyConflict_2(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "same request replayed", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "key reused for other order", err: fmt.Errorf("create order: %w", ErrIdempotencyHashMismatch), want: true},
		{name: "still processing", err: ErrIdempotencyInProgress, want: false},
		{name: "missing key", err: ErrIdempotencyKeyNotFound, want: false},
		{name: "unrelated", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsIdempotencyConflict(tt.err))
		})
	}
}
