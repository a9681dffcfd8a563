// Package quote prices the platform token in USDC.
//
// Market data is an external collaborator; the executor only needs a current
// price to convert a net USDC amount into tokens and enforce the caller's
// slippage bound.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/swapgate/internal/usdc"
)

// TokenDecimals is the precision of token amounts.
const TokenDecimals = 18

var ErrNoPrice = errors.New("quote: no price available")

// Source returns the price of one token in USDC.
type Source interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// Static is a fixed price.
type Static decimal.Decimal

func (s Static) Price(context.Context) (decimal.Decimal, error) {
	p := decimal.Decimal(s)
	if !p.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	return p, nil
}

// TokensFor converts a USDC amount in smallest units to tokens at price,
// rounded down to TokenDecimals.
func TokensFor(amount *big.Int, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	usd := decimal.NewFromBigInt(amount, -usdc.Decimals)
	return usd.DivRound(price, TokenDecimals+1).Truncate(TokenDecimals), nil
}

// Format renders a token amount with fixed precision.
func Format(tokens decimal.Decimal) string {
	return tokens.StringFixed(TokenDecimals)
}

// Oracle fetches the price over HTTP and caches it. Endpoint response:
//
//	{"price": "0.50"}
//
// A failed refresh serves the last known price, or the fallback.
type Oracle struct {
	mu         sync.RWMutex
	url        string
	price      decimal.Decimal
	lastUpdate time.Time
	ttl        time.Duration
	fallback   decimal.Decimal
	client     *http.Client
}

// NewOracle creates a price oracle with a fallback price and cache TTL.
func NewOracle(url string, fallback decimal.Decimal, cacheTTL time.Duration) *Oracle {
	return &Oracle{
		url:      url,
		price:    fallback,
		fallback: fallback,
		ttl:      cacheTTL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (o *Oracle) Price(ctx context.Context) (decimal.Decimal, error) {
	o.mu.RLock()
	if time.Since(o.lastUpdate) < o.ttl && o.price.IsPositive() {
		price := o.price
		o.mu.RUnlock()
		return price, nil
	}
	o.mu.RUnlock()

	fresh, err := o.fetch(ctx)
	if err != nil {
		o.mu.Lock()
		o.lastUpdate = time.Time{} // retry on next call
		price := o.price
		o.mu.Unlock()
		if price.IsPositive() {
			return price, nil
		}
		if o.fallback.IsPositive() {
			return o.fallback, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %w", ErrNoPrice, err)
	}

	o.mu.Lock()
	o.price = fresh
	o.lastUpdate = time.Now()
	o.mu.Unlock()
	return fresh, nil
}

func (o *Oracle) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var result struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	if !result.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price returned: %s", result.Price)
	}
	return result.Price, nil
}
