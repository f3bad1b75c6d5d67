package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps subscriptions in process memory. Registrations do not
// survive a restart; deployments that need durability use FirestoreStore.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]Subscription
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]Subscription)}
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, analysisID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Subscription, 0)
	for _, sub := range s.subs {
		if sub.AnalysisID == analysisID {
			matches = append(matches, sub)
		}
	}
	return matches, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	return nil
}
