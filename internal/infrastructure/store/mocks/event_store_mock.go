package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is an in-memory EventStoreInterface that records every
// Append. Events are kept in append order.
type MockEventStore struct {
	mu       sync.RWMutex
	log      []store.Event
	versions map[string]int

	AppendCalls []AppendCall
	// AppendErr fails every Append after it is recorded.
	AppendErr error
}

// AppendCall records parameters passed to Append
type AppendCall struct {
	AggregateID   string
	AggregateType string
	EventType     string
	Data          any
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		versions:    make(map[string]int),
		AppendCalls: make([]AppendCall, 0),
	}
}

func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AppendCalls = append(m.AppendCalls, AppendCall{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          data,
	})
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	m.versions[aggregateID]++
	event := store.Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          raw,
		Timestamp:     time.Now(),
		Version:       m.versions[aggregateID],
	}
	m.log = append(m.log, event)
	return &event, nil
}

// GetEvents returns a copy of the events of one attempt, oldest first
func (m *MockEventStore) GetEvents(aggregateID string) []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []store.Event
	for _, e := range m.log {
		if e.AggregateID == aggregateID {
			events = append(events, e)
		}
	}
	return events
}

// GetAllEvents returns a copy of the whole log in append order
func (m *MockEventStore) GetAllEvents() []store.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.Event(nil), m.log...)
}

// Calls returns a copy of the recorded Append calls
func (m *MockEventStore) Calls() []AppendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AppendCall(nil), m.AppendCalls...)
}

// EventTypes returns the event types appended so far, in order
func (m *MockEventStore) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.AppendCalls))
	for _, c := range m.AppendCalls {
		types = append(types, c.EventType)
	}
	return types
}
