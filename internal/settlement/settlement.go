// Package settlement verifies and consumes signed swap authorizations.
//
// The executor is the trust boundary. It rebuilds the canonical message from
// the caller's fields, checks the signature against the issuer's address,
// the deadline, the fee split and the caller's slippage bound, and only then
// atomically marks the nonce spent and moves funds. A nonce settles at most
// once; if moving funds fails the spend is released.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRequest        = errors.New("settlement: invalid request")
	ErrSignatureInvalid      = errors.New("settlement: signature does not match issuer")
	ErrAuthorizationExpired  = errors.New("settlement: authorization expired")
	ErrNonceAlreadySpent     = errors.New("settlement: transaction already processed")
	ErrFeeMismatch           = errors.New("settlement: fee does not match current rate")
	ErrSlippageExceeded      = errors.New("settlement: received amount below minimum")
	ErrInsufficientLiquidity = errors.New("settlement: insufficient token liquidity")
	ErrTransferFailed        = errors.New("settlement: transfer failed")
	ErrInvalidTreasury       = errors.New("settlement: invalid treasury address")
)

// ExecuteRequest mirrors the authorization fields verbatim, plus the
// caller's slippage bound in tokens.
type ExecuteRequest struct {
	Actor       string `json:"actor"`
	Amount      string `json:"amount"`
	Net         string `json:"net"`
	ServiceID   string `json:"serviceId"`
	Deadline    int64  `json:"deadline"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	MinReceived string `json:"minReceived,omitempty"`
}

// Transfer is one all-or-nothing movement of funds for a settled swap.
type Transfer struct {
	Ref      string
	Actor    string
	Treasury string
	Fee      *big.Int        // USDC units to the treasury
	Net      *big.Int        // USDC units into the pool
	Tokens   decimal.Decimal // platform tokens to the actor
}

// Funds moves value for a settlement. Settle either applies the whole
// transfer or nothing.
type Funds interface {
	Settle(ctx context.Context, t Transfer) error
}

// SpendStore is the executor's nonce-consumption ledger. MarkSpent is a
// single atomic check-and-mark: of any number of concurrent calls for one
// nonce exactly one returns true.
type SpendStore interface {
	MarkSpent(ctx context.Context, nonce string, retainUntil time.Time) (bool, error)
	// Release undoes a MarkSpent whose settlement did not complete.
	Release(ctx context.Context, nonce string) error
	IsSpent(ctx context.Context, nonce string) (bool, error)
}

// Stats are running totals since start.
type Stats struct {
	TotalVolume       string `json:"totalVolume"`
	TotalFees         string `json:"totalFees"`
	TotalTransactions int64  `json:"totalTransactions"`
	FeeRateBps        int    `json:"feeRateBps"`
	Treasury          string `json:"treasury"`
}
