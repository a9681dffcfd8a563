// Package risk scores a swap request against an actor's telemetry snapshot.
//
// Scoring is a pure function of its inputs: an explicit rule table starting
// from a neutral baseline of 50, where higher scores mean lower risk. A
// sanctions hit short-circuits the table and always rejects.
package risk

import (
	"context"
	"errors"
	"math/big"
	"slices"
	"time"
)

var ErrNotFound = errors.New("risk: assessment not found")

// Flag explains one contribution to a score. The set is closed.
type Flag string

const (
	FlagSanctionsHit       Flag = "sanctions_hit"
	FlagSanctionsUnchecked Flag = "sanctions_unchecked"
	FlagKYCMissing         Flag = "kyc_missing"
	FlagContractAccount    Flag = "contract_account"
	FlagLowBalance         Flag = "low_balance"
	FlagNoActivity         Flag = "no_activity"
	FlagTelemetryDegraded  Flag = "telemetry_degraded"
	FlagVPNDetected        Flag = "vpn_detected"
	FlagLargeAmount        Flag = "large_amount"
)

// AllFlags lists every flag in rule-table order.
var AllFlags = []Flag{
	FlagSanctionsHit,
	FlagSanctionsUnchecked,
	FlagKYCMissing,
	FlagContractAccount,
	FlagLowBalance,
	FlagNoActivity,
	FlagTelemetryDegraded,
	FlagVPNDetected,
	FlagLargeAmount,
}

// Valid reports whether f is a known flag.
func (f Flag) Valid() bool { return slices.Contains(AllFlags, f) }

// Tier is the coarse risk band shown to clients.
type Tier string

const (
	TierInstitutionalLow Tier = "institutional_low"
	TierLow              Tier = "low"
	TierMedium           Tier = "medium"
	TierHigh             Tier = "high"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierInstitutionalLow, TierLow, TierMedium, TierHigh:
		return true
	}
	return false
}

// Intent is the client's proposed swap. Every field is untrusted.
type Intent struct {
	Actor     string
	Gross     *big.Int // 6-decimal units
	Asset     string
	ServiceID string
	MinNet    *big.Int // slippage bound, may be nil
}

// Assessment is the immutable result of scoring one authorization attempt.
type Assessment struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	ServiceID   string    `json:"serviceId"`
	Score       int       `json:"score"`
	Tier        Tier      `json:"tier"`
	Flags       []Flag    `json:"flags"`
	Approved    bool      `json:"approved"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Has reports whether the assessment carries flag f.
func (a *Assessment) Has(f Flag) bool { return slices.Contains(a.Flags, f) }

func (a *Assessment) clone() *Assessment {
	c := *a
	c.Flags = slices.Clone(a.Flags)
	return &c
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, id string) (*Assessment, error)
	ListByActor(ctx context.Context, actor string, limit int) ([]*Assessment, error)
}
