package idempotency

import (
	"context"
	"sync"
)

// InMemoryStore is a simple thread-safe map-based store for testing and local dev.
// The map is keyed by token, so the "one record per token" constraint holds
// under the write lock. Data is lost on restart.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]Record),
	}
}

func (s *InMemoryStore) Find(ctx context.Context, token string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[token]
	if !ok {
		return nil, nil
	}

	// Return a copy so callers cannot mutate the stored payload
	out := rec.Clone()
	return &out, nil
}

func (s *InMemoryStore) InsertIfAbsent(ctx context.Context, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[record.Token]; exists {
		return Record{}, ErrConflict
	}
	s.data[record.Token] = record.Clone()
	return record.Clone(), nil
}

func (s *InMemoryStore) Replace(ctx context.Context, previous, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[record.Token]
	if !ok || !existing.SameVersion(previous) {
		return Record{}, ErrConflict
	}
	s.data[record.Token] = record.Clone()
	return record.Clone(), nil
}

// Delete removes the record for token.
func (s *InMemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, token)
	return nil
}

// Len returns the number of stored records, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ RecordStore = (*InMemoryStore)(nil)
