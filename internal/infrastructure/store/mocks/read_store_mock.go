package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/example/komodo-checkout/internal/readmodel"
)

// MockReadStore is a mock implementation of ReadStoreInterface for testing
type MockReadStore struct {
	mu       sync.RWMutex
	attempts map[string]*readmodel.CheckoutAttemptReadModel

	// For tracking calls in tests
	SaveCalls []SaveCall
	ListCalls []ListCall
	SaveErr   error
	ListErr   error
}

// SaveCall records parameters passed to SaveAttempt
type SaveCall struct {
	ID     string
	Status string
}

// ListCall records parameters passed to ListAttemptsByUser
type ListCall struct {
	UserID string
	Limit  int
}

// NewMockReadStore creates a new MockReadStore
func NewMockReadStore() *MockReadStore {
	return &MockReadStore{
		attempts:  make(map[string]*readmodel.CheckoutAttemptReadModel),
		SaveCalls: make([]SaveCall, 0),
		ListCalls: make([]ListCall, 0),
	}
}

// SaveAttempt stores a copy of the attempt
func (m *MockReadStore) SaveAttempt(ctx context.Context, attempt *readmodel.CheckoutAttemptReadModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls = append(m.SaveCalls, SaveCall{ID: attempt.ID, Status: attempt.Status})
	if m.SaveErr != nil {
		return m.SaveErr
	}
	stored := *attempt
	m.attempts[attempt.ID] = &stored
	return nil
}

// GetAttempt retrieves a copy of an attempt
func (m *MockReadStore) GetAttempt(ctx context.Context, id string) (*readmodel.CheckoutAttemptReadModel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempt, ok := m.attempts[id]
	if !ok {
		return nil, false, nil
	}
	found := *attempt
	return &found, true, nil
}

// ListAttemptsByUser returns a user's attempts, newest first
func (m *MockReadStore) ListAttemptsByUser(ctx context.Context, userID string, limit int) ([]*readmodel.CheckoutAttemptReadModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls = append(m.ListCalls, ListCall{UserID: userID, Limit: limit})
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var attempts []*readmodel.CheckoutAttemptReadModel
	for _, attempt := range m.attempts {
		if attempt.UserID == userID {
			found := *attempt
			attempts = append(attempts, &found)
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

// SetAttempt stores an attempt directly for testing
func (m *MockReadStore) SetAttempt(attempt *readmodel.CheckoutAttemptReadModel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *attempt
	m.attempts[attempt.ID] = &stored
}

// Count returns the number of stored attempts
func (m *MockReadStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}
