// Package authz issues short-lived signed swap authorizations.
//
// An authorization is produced only for an approved risk assessment. It binds
// the actor, gross and net amounts, service id, deadline and a single-use
// 128-bit nonce to the issuer's secp256k1 key. The nonce is reserved in the
// issuance ledger before signing; a collision is fatal for that request.
package authz

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/swapgate/internal/risk"
)

const (
	// DefaultDeadlineWindow is how long an authorization stays valid.
	DefaultDeadlineWindow = 5 * time.Minute
	// MaxDeadlineWindow bounds the staleness of the underlying assessment.
	MaxDeadlineWindow = 30 * time.Minute
	// DefaultSigningTimeout bounds a single signing call.
	DefaultSigningTimeout = 2 * time.Second
)

var (
	ErrInvalidRequest     = errors.New("authz: invalid request")
	ErrAmountTooSmall     = errors.New("authz: amount below minimum swap")
	ErrRiskRejected       = errors.New("authz: rejected by risk assessment")
	ErrMinNetUnmet        = errors.New("authz: net amount below requested minimum")
	ErrNonceCollision     = errors.New("authz: nonce already issued")
	ErrSigningUnavailable = errors.New("authz: signing unavailable")
	ErrNonceNotFound      = errors.New("authz: nonce not found")
	ErrNotIssued          = errors.New("authz: nonce no longer in issued state")
)

// RejectionError carries the assessment behind a risk rejection so the client
// can show the flags. It is not a system error.
type RejectionError struct {
	Assessment *risk.Assessment
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("authz: rejected with score %d (%s)", e.Assessment.Score, e.Assessment.Tier)
}

func (e *RejectionError) Unwrap() error { return ErrRiskRejected }

// Authorization is the signed permission handed to the client. Every field
// is mirrored verbatim into the execution request.
type Authorization struct {
	Actor     string `json:"actor"`
	Gross     string `json:"amount"`
	Fee       string `json:"fee"`
	Net       string `json:"net"`
	ServiceID string `json:"serviceId"`
	Deadline  int64  `json:"deadline"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`

	// Informational. The executor uses its own configuration for these.
	Issuer       string      `json:"issuer"`
	ChainID      int64       `json:"chainId"`
	Executor     string      `json:"executor"`
	FeeRateBps   int         `json:"feeRateBps"`
	AssessmentID string      `json:"assessmentId"`
	Score        int         `json:"score"`
	Tier         risk.Tier   `json:"tier"`
	Flags        []risk.Flag `json:"flags"`
}

// Expired reports whether the deadline has passed at now.
func (a *Authorization) Expired(now time.Time) bool {
	return now.Unix() > a.Deadline
}

// Status is the issuer-side lifecycle of a nonce.
type Status string

const (
	StatusIssued  Status = "issued"
	StatusSpent   Status = "spent"
	StatusExpired Status = "expired"
)

// IssuedNonce is one row of the issuance ledger.
type IssuedNonce struct {
	Nonce     string    `json:"nonce"`
	Actor     string    `json:"actor"`
	ServiceID string    `json:"serviceId"`
	Gross     string    `json:"amount"`
	Net       string    `json:"net"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`
	IssuedAt  time.Time `json:"issuedAt"`
}
