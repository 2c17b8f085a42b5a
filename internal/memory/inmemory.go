package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps insight sets for the life of the process
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) FindByUser(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{ID: rec.ID, UserID: rec.UserID, Memories: append([]string(nil), rec.Memories...)}, nil
}

func (s *InMemoryStore) Insert(_ context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; ok {
		return nil, fmt.Errorf("memories for user %s already exist", userID)
	}
	rec := &Record{ID: uuid.New().String(), UserID: userID, Memories: []string{}}
	s.records[userID] = rec
	return &Record{ID: rec.ID, UserID: userID, Memories: []string{}}, nil
}

func (s *InMemoryStore) Update(_ context.Context, userID string, memories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrNotFound
	}
	rec.Memories = append([]string(nil), memories...)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
