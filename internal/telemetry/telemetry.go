// Package telemetry gathers a read-only snapshot of an actor's state for risk
// scoring: native balance, account activity, contract classification, KYC
// tier, and the client's session fingerprint.
//
// Collection never fails. Unreadable fields take sentinel values that push
// the risk score down rather than blocking the flow.
package telemetry

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ActivityUnknown is the max-risk sentinel for an unreadable account nonce.
const ActivityUnknown int64 = -1

// DefaultTimeout bounds a single collection.
const DefaultTimeout = 3 * time.Second

var ErrUnavailable = errors.New("telemetry: chain data unavailable")

// Session is the client-reported browser fingerprint.
type Session struct {
	UserAgentHash   string `json:"userAgentHash"`
	Timezone        string `json:"timezone"`
	ScreenSignature string `json:"screenSignature"`
}

// NetworkFlags are IP-derived indicators supplied by the edge, when available.
type NetworkFlags struct {
	VPN   bool `json:"vpn"`
	Known bool `json:"known"`
}

// Record is an immutable snapshot of actor state captured for one request.
type Record struct {
	Actor       string       `json:"actor"`
	KYCTier     int          `json:"kycTier"`
	Balance     *big.Int     `json:"balance"`
	Activity    int64        `json:"activity"`
	IsContract  bool         `json:"isContract"`
	Session     Session      `json:"session"`
	Network     NetworkFlags `json:"network"`
	Degraded    bool         `json:"degraded"`
	CollectedAt time.Time    `json:"collectedAt"`
}

// BalanceOrZero returns a copy of the balance, or zero when unknown.
func (r *Record) BalanceOrZero() *big.Int {
	if r == nil || r.Balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Balance)
}

// ChainReader is the read-only slice of an Ethereum client the collector needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// KYCSource resolves an actor's verification tier from user storage.
type KYCSource interface {
	Tier(ctx context.Context, actor string) (int, error)
}
