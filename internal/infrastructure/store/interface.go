package store

import (
	"context"

	"github.com/example/komodo-checkout/internal/readmodel"
)

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(aggregateID string) []Event
	GetAllEvents() []Event
}

// ReadStoreInterface defines the interface for checkout attempt storage
type ReadStoreInterface interface {
	// SaveAttempt inserts or replaces an attempt
	SaveAttempt(ctx context.Context, attempt *readmodel.CheckoutAttemptReadModel) error

	// GetAttempt retrieves an attempt by id
	GetAttempt(ctx context.Context, id string) (*readmodel.CheckoutAttemptReadModel, bool, error)

	// ListAttemptsByUser returns a user's attempts, newest first. A limit
	// of zero or less returns all of them.
	ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*readmodel.CheckoutAttemptReadModel, error)
}
