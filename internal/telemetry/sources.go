package telemetry

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryKYC is an in-memory KYC tier registry for demo/test use.
type MemoryKYC struct {
	mu    sync.RWMutex
	tiers map[string]int
}

// NewMemoryKYC creates an empty registry; unknown actors are tier 0.
func NewMemoryKYC() *MemoryKYC {
	return &MemoryKYC{tiers: make(map[string]int)}
}

func (m *MemoryKYC) Tier(_ context.Context, actor string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiers[strings.ToLower(actor)], nil
}

// SetTier records the tier for actor.
func (m *MemoryKYC) SetTier(actor string, tier int) {
	m.mu.Lock()
	m.tiers[strings.ToLower(actor)] = tier
	m.mu.Unlock()
}

// StaticAccount is the fixed on-chain state reported by StaticChain.
type StaticAccount struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
}

// StaticChain is a ChainReader over a fixed account table, used when no RPC
// endpoint is configured and in tests. Unknown accounts read as empty.
type StaticChain struct {
	mu       sync.RWMutex
	accounts map[common.Address]StaticAccount
	err      error
}

// NewStaticChain creates an empty static chain.
func NewStaticChain() *StaticChain {
	return &StaticChain{accounts: make(map[common.Address]StaticAccount)}
}

// Set records the state of an account.
func (s *StaticChain) Set(addr string, acct StaticAccount) {
	s.mu.Lock()
	s.accounts[common.HexToAddress(addr)] = acct
	s.mu.Unlock()
}

// FailWith makes every read return err (nil restores normal reads).
func (s *StaticChain) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StaticChain) lookup(addr common.Address) (StaticAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return StaticAccount{}, s.err
	}
	return s.accounts[addr], nil
}

func (s *StaticChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	a, err := s.lookup(account)
	if err != nil {
		return nil, err
	}
	if a.Balance == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(a.Balance), nil
}

func (s *StaticChain) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	a, err := s.lookup(account)
	return a.Nonce, err
}

func (s *StaticChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	a, err := s.lookup(account)
	return a.Code, err
}
