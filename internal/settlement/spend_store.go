package settlement

import (
	"context"
	"strings"
	"sync"
	"time"
)

// pruneEvery is how many fresh marks pass between sweeps of expired entries.
const pruneEvery = 1024

// MemorySpendStore is an in-memory spend ledger for demo/test use. Like the
// Redis store, a marker lives until its retainUntil (floored at
// minRetention) and is then dropped; the executor only marks nonces that
// have not expired, so a dropped marker can never be replayed.
type MemorySpendStore struct {
	mu    sync.Mutex
	spent map[string]time.Time // nonce → evict after
	marks int
	now   func() time.Time
}

// NewMemorySpendStore creates an in-memory spend ledger.
func NewMemorySpendStore() *MemorySpendStore {
	return &MemorySpendStore{spent: make(map[string]time.Time), now: time.Now}
}

func (s *MemorySpendStore) MarkSpent(_ context.Context, nonce string, retainUntil time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := strings.ToLower(nonce)
	if until, ok := s.spent[key]; ok && now.Before(until) {
		return false, nil
	}
	s.spent[key] = later(retainUntil, now.Add(minRetention))
	s.marks++
	if s.marks%pruneEvery == 0 {
		s.prune(now)
	}
	return true, nil
}

func (s *MemorySpendStore) Release(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spent, strings.ToLower(nonce))
	return nil
}

func (s *MemorySpendStore) IsSpent(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.spent[strings.ToLower(nonce)]
	return ok && s.now().Before(until), nil
}

// Prune drops every marker whose retention has passed and returns how many
// it removed.
func (s *MemorySpendStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prune(s.now())
}

// Len returns the number of markers held, expired ones included.
func (s *MemorySpendStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spent)
}

func (s *MemorySpendStore) prune(now time.Time) int {
	removed := 0
	for nonce, until := range s.spent {
		if !now.Before(until) {
			delete(s.spent, nonce)
			removed++
		}
	}
	return removed
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

var _ SpendStore = (*MemorySpendStore)(nil)
