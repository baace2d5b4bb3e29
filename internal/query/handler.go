package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/komodo-checkout/internal/infrastructure/store"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

var ErrAttemptNotFound = errors.New("checkout attempt not found")

type Handler struct {
	readStore store.ReadStoreInterface
}

func NewHandler(readStore store.ReadStoreInterface) *Handler {
	return &Handler{readStore: readStore}
}

// ListCheckoutHistory returns the user's checkout attempts, newest first.
// A limit outside 1..MaxHistoryLimit falls back to the nearest bound.
func (h *Handler) ListCheckoutHistory(ctx context.Context, userID string, limit int) ([]*CheckoutAttemptReadModel, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	attempts, err := h.readStore.ListAttemptsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkout history: %w", err)
	}
	if attempts == nil {
		attempts = []*CheckoutAttemptReadModel{}
	}
	return attempts, nil
}

// GetCheckoutAttempt returns one attempt of the user. Attempts of other
// users are reported as not found.
func (h *Handler) GetCheckoutAttempt(ctx context.Context, userID, attemptID string) (*CheckoutAttemptReadModel, error) {
	attempt, ok, err := h.readStore.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout attempt: %w", err)
	}
	if !ok || attempt.UserID != userID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}
