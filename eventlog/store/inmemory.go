package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
)

// InMemoryStore implements eventlog.Store with process-local storage. It
// is the default backend and the one tests run against.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*eventlog.Record
}

// NewInMemoryStore creates an empty in-memory event log.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]*eventlog.Record),
	}
}

// AppendEvent stores an event under the conversation.
func (s *InMemoryStore) AppendEvent(_ context.Context, conversationID string, e *event.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil: %w", errors.ErrInvalidInput)
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[conversationID] = append(s.records[conversationID], &eventlog.Record{
		ConversationID: conversationID,
		Event:          e,
		StoredAt:       time.Now().UTC(),
	})
	return nil
}

// Events returns the conversation's records in append order.
func (s *InMemoryStore) Events(_ context.Context, conversationID string) ([]*eventlog.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*eventlog.Record(nil), s.records[conversationID]...), nil
}

// Count returns how many events the conversation has.
func (s *InMemoryStore) Count(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[conversationID]), nil
}

// Clear drops all events of the conversation.
func (s *InMemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conversationID)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error { return nil }
