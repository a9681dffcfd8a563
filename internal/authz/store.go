package authz

import (
	"context"
	"sync"
	"time"
)

// NonceStore is the issuance ledger. Reserve is an atomic insert-if-absent:
// concurrent reservations of the same nonce yield exactly one success.
type NonceStore interface {
	Reserve(ctx context.Context, n *IssuedNonce) error
	Get(ctx context.Context, nonce string) (*IssuedNonce, error)
	// ListExpirable returns issued nonces whose deadline is before cutoff.
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*IssuedNonce, error)
	// Finalize moves an issued nonce to a terminal status. Returns
	// ErrNotIssued if it already left the issued state.
	Finalize(ctx context.Context, nonce string, status Status) error
}

// Pruner is implemented by ledgers that drop finalized nonces instead of
// keeping them for audit. The timer calls Prune after every sweep.
type Pruner interface {
	// Prune removes finalized nonces whose deadline is before cutoff and
	// returns how many it removed. Issued nonces are never pruned.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is an in-memory NonceStore for demo/test use. It keeps no
// audit trail: finalized nonces are dropped by Prune.
type MemoryStore struct {
	mu     sync.Mutex
	nonces map[string]*IssuedNonce
}

// NewMemoryStore creates an in-memory issuance ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nonces: make(map[string]*IssuedNonce)}
}

func (s *MemoryStore) Reserve(ctx context.Context, n *IssuedNonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nonces[n.Nonce]; exists {
		return ErrNonceCollision
	}
	c := *n
	s.nonces[n.Nonce] = &c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, nonce string) (*IssuedNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nonces[nonce]
	if !ok {
		return nil, ErrNonceNotFound
	}
	c := *n
	return &c, nil
}

func (s *MemoryStore) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*IssuedNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*IssuedNonce
	for _, n := range s.nonces {
		if n.Status != StatusIssued || !n.Deadline.Before(cutoff) {
			continue
		}
		c := *n
		result = append(result, &c)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) Finalize(ctx context.Context, nonce string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nonces[nonce]
	if !ok {
		return ErrNonceNotFound
	}
	if n.Status != StatusIssued {
		return ErrNotIssued
	}
	n.Status = status
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, n := range s.nonces {
		if n.Status != StatusIssued && n.Deadline.Before(cutoff) {
			delete(s.nonces, nonce)
			removed++
		}
	}
	return removed, nil
}

var _ Pruner = (*MemoryStore)(nil)
