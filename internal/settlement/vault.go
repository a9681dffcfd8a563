package settlement

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Vault is the in-process Funds implementation: a token inventory sold for
// USDC, with fees accumulated per treasury.
type Vault struct {
	mu        sync.Mutex
	inventory decimal.Decimal
	pool      *big.Int
	fees      map[string]*big.Int
	tokens    map[string]decimal.Decimal
}

// NewVault creates a vault holding inventory tokens.
func NewVault(inventory decimal.Decimal) *Vault {
	return &Vault{
		inventory: inventory,
		pool:      new(big.Int),
		fees:      make(map[string]*big.Int),
		tokens:    make(map[string]decimal.Decimal),
	}
}

func (v *Vault) Settle(_ context.Context, t Transfer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t.Tokens.GreaterThan(v.inventory) {
		return ErrInsufficientLiquidity
	}

	treasury := strings.ToLower(t.Treasury)
	if v.fees[treasury] == nil {
		v.fees[treasury] = new(big.Int)
	}
	v.fees[treasury].Add(v.fees[treasury], t.Fee)
	v.pool.Add(v.pool, t.Net)
	v.inventory = v.inventory.Sub(t.Tokens)
	actor := strings.ToLower(t.Actor)
	v.tokens[actor] = v.tokens[actor].Add(t.Tokens)
	return nil
}

// Restock adds tokens to the inventory.
func (v *Vault) Restock(tokens decimal.Decimal) {
	v.mu.Lock()
	v.inventory = v.inventory.Add(tokens)
	v.mu.Unlock()
}

// Inventory returns the unsold token balance.
func (v *Vault) Inventory() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.inventory
}

// FeesOf returns the USDC fees credited to treasury.
func (v *Vault) FeesOf(treasury string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f := v.fees[strings.ToLower(treasury)]; f != nil {
		return new(big.Int).Set(f)
	}
	return new(big.Int)
}

// Pool returns the USDC received for sold tokens.
func (v *Vault) Pool() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.pool)
}

// TokensOf returns the tokens delivered to actor.
func (v *Vault) TokensOf(actor string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens[strings.ToLower(actor)]
}

var _ Funds = (*Vault)(nil)
