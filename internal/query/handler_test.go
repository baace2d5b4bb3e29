package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/komodo-checkout/internal/infrastructure/store/mocks"
	"github.com/example/komodo-checkout/internal/readmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryHandler() (*Handler, *mocks.MockReadStore) {
	readStore := mocks.NewMockReadStore()
	handler := NewHandler(readStore)
	return handler, readStore
}

// ============================================
// Checkout History Tests
// ============================================

func TestHandler_ListCheckoutHistory(t *testing.T) {
	handler, readStore := newTestQueryHandler()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	readStore.SetAttempt(&CheckoutAttemptReadModel{ID: "old", UserID: "42", Status: readmodel.AttemptFailed, CreatedAt: base})
	readStore.SetAttempt(&CheckoutAttemptReadModel{ID: "new", UserID: "42", Status: readmodel.AttemptSucceeded, CreatedAt: base.Add(time.Minute)})
	readStore.SetAttempt(&CheckoutAttemptReadModel{ID: "other", UserID: "7", CreatedAt: base})

	attempts, err := handler.ListCheckoutHistory(context.Background(), "42", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "new", attempts[0].ID)
	assert.Equal(t, "old", attempts[1].ID)
}

func TestHandler_ListCheckoutHistory_Limits(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{0, DefaultHistoryLimit},
		{-5, DefaultHistoryLimit},
		{5, 5},
		{MaxHistoryLimit + 1, MaxHistoryLimit},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit %d", tt.requested), func(t *testing.T) {
			handler, readStore := newTestQueryHandler()

			_, err := handler.ListCheckoutHistory(context.Background(), "42", tt.requested)
			require.NoError(t, err)
			require.Len(t, readStore.ListCalls, 1)
			assert.Equal(t, tt.expected, readStore.ListCalls[0].Limit)
		})
	}
}

func TestHandler_ListCheckoutHistory_Empty(t *testing.T) {
	handler, _ := newTestQueryHandler()

	attempts, err := handler.ListCheckoutHistory(context.Background(), "42", 0)
	require.NoError(t, err)
	assert.NotNil(t, attempts)
	assert.Empty(t, attempts)
}

func TestHandler_ListCheckoutHistory_StoreError(t *testing.T) {
	handler, readStore := newTestQueryHandler()
	readStore.ListErr = errors.New("connection reset")

	_, err := handler.ListCheckoutHistory(context.Background(), "42", 0)
	assert.ErrorIs(t, err, readStore.ListErr)
}

func TestHandler_GetCheckoutAttempt(t *testing.T) {
	handler, readStore := newTestQueryHandler()
	readStore.SetAttempt(&CheckoutAttemptReadModel{ID: "attempt-1", UserID: "42", Status: readmodel.AttemptSubmitted})

	attempt, err := handler.GetCheckoutAttempt(context.Background(), "42", "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, readmodel.AttemptSubmitted, attempt.Status)

	_, err = handler.GetCheckoutAttempt(context.Background(), "7", "attempt-1")
	assert.ErrorIs(t, err, ErrAttemptNotFound, "attempts of other users are hidden")

	_, err = handler.GetCheckoutAttempt(context.Background(), "42", "missing")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}
