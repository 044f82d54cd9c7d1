package memory

import (
	"context"
	"sync"

	id "examgate/pkg/domain"
	audit "examgate/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.AttemptID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.AttemptID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.AttemptID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.AttemptID] = append(s.events[event.AttemptID], event)
	return nil
}

func (s *InMemoryStore) ListByAttempt(_ context.Context, attemptID id.AttemptID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[attemptID]...), nil
}

// ListRecent returns up to limit events in append order, newest last.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []audit.Event
	for _, attemptEvents := range s.events {
		all = append(all, attemptEvents...)
	}
	start := max(len(all)-limit, 0)
	return all[start:], nil
}
