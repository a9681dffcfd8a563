package receipts

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory receipt store for demo/development mode.
type MemoryStore struct {
	receipts map[string]*Receipt
	byNonce  map[string]string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory receipt store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*Receipt),
		byNonce:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.receipts[r.ID] = &cp
	m.byNonce[strings.ToLower(r.Nonce)] = r.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByNonce(ctx context.Context, nonce string) (*Receipt, error) {
	m.mu.RLock()
	id, ok := m.byNonce[strings.ToLower(nonce)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) ListByActor(_ context.Context, actor string, limit int) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(actor)
	var result []*Receipt
	for _, r := range m.receipts {
		if r.Actor == addr {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SettledAt.After(result[j].SettledAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
