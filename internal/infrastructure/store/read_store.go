package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/komodo-checkout/internal/readmodel"
)

// ReadStore is an in-memory checkout attempt store
type ReadStore struct {
	mu       sync.RWMutex
	attempts map[string]*readmodel.CheckoutAttemptReadModel // id -> attempt
}

func NewReadStore() *ReadStore {
	return &ReadStore{
		attempts: make(map[string]*readmodel.CheckoutAttemptReadModel),
	}
}

// SaveAttempt stores a copy of the attempt
func (rs *ReadStore) SaveAttempt(ctx context.Context, attempt *readmodel.CheckoutAttemptReadModel) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	stored := *attempt
	rs.attempts[attempt.ID] = &stored
	return nil
}

// GetAttempt retrieves a copy of an attempt by id
func (rs *ReadStore) GetAttempt(ctx context.Context, id string) (*readmodel.CheckoutAttemptReadModel, bool, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	attempt, ok := rs.attempts[id]
	if !ok {
		return nil, false, nil
	}
	found := *attempt
	return &found, true, nil
}

// ListAttemptsByUser returns copies of a user's attempts, newest first
func (rs *ReadStore) ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*readmodel.CheckoutAttemptReadModel, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var attempts []*readmodel.CheckoutAttemptReadModel
	for _, attempt := range rs.attempts {
		if attempt.UserID != userID {
			continue
		}
		found := *attempt
		attempts = append(attempts, &found)
	}

	sortNewestFirst(attempts)
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

func sortNewestFirst(attempts []*readmodel.CheckoutAttemptReadModel) {
	sort.SliceStable(attempts, func(i, j int) bool {
		if attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].ID > attempts[j].ID
		}
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
}
