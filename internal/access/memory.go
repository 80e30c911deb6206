package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps accesses in process memory. It backs the accesses listed
// in the config file and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accesses map[string]Access
}

func NewMemoryStore(seed ...Access) (*MemoryStore, error) {
	s := &MemoryStore{accesses: make(map[string]Access, len(seed))}
	for _, a := range seed {
		if err := s.Put(context.Background(), a); err != nil {
			return nil, fmt.Errorf("seed access %q: %w", a.ID, err)
		}
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accesses[id]
	if !ok {
		return Access{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Put(_ context.Context, a Access) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.accesses[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.accesses[a.ID] = a
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accesses[id]; !ok {
		return ErrNotFound
	}
	delete(s.accesses, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Access, 0, len(s.accesses))
	for _, a := range s.accesses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
