package swapclient

import (
	"fmt"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/settlement"
)

// APIError is a non-success response from the gateway. It unwraps to the
// server-side sentinel for its code, so callers can use errors.Is with the
// authz, sanctions and settlement error values.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`

	sentinel error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("swapgate: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("swapgate: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.sentinel }

var issuanceErrors = map[string]error{
	"invalid_request":       authz.ErrInvalidRequest,
	"min_net_unmet":         authz.ErrMinNetUnmet,
	"sanctions_unavailable": sanctions.ErrUnavailable,
	"signing_unavailable":   authz.ErrSigningUnavailable,
	"not_found":             authz.ErrNonceNotFound,
}

var settlementErrors = map[string]error{
	"invalid_request":        settlement.ErrInvalidRequest,
	"already_processed":      settlement.ErrNonceAlreadySpent,
	"authorization_expired":  settlement.ErrAuthorizationExpired,
	"signature_invalid":      settlement.ErrSignatureInvalid,
	"fee_mismatch":           settlement.ErrFeeMismatch,
	"slippage_exceeded":      settlement.ErrSlippageExceeded,
	"insufficient_liquidity": settlement.ErrInsufficientLiquidity,
	"transfer_failed":        settlement.ErrTransferFailed,
	"invalid_treasury":       settlement.ErrInvalidTreasury,
}

var receiptErrors = map[string]error{
	"invalid_request": authz.ErrInvalidRequest,
	"not_found":       receipts.ErrReceiptNotFound,
}
