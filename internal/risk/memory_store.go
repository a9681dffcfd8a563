package risk

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Assessment
	byActor map[string][]*Assessment
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Assessment),
		byActor: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := a.clone()
	s.byID[c.ID] = c
	actor := strings.ToLower(c.Actor)
	s.byActor[actor] = append(s.byActor[actor], c)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (s *MemoryStore) ListByActor(ctx context.Context, actor string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byActor[strings.ToLower(actor)]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	start := len(all) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}
	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		result = append(result, all[i].clone())
	}
	return result, nil
}
