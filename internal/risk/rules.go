package risk

import (
	"math/big"

	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/telemetry"
	"github.com/mbd888/swapgate/internal/usdc"
)

// Rule table. Deltas are added to Baseline in the order listed; the result is
// clamped to [MinScore, MaxScore].
//
//	rule                 condition                          delta   flag
//	sanctions            screening hit                      ->0     sanctions_hit (rejects, skips the rest)
//	sanctions unchecked  screening unknown (fail-open)      -5      sanctions_unchecked
//	kyc missing          tier 0                             -15     kyc_missing
//	kyc verified         tier >= 1                          +10/tier, max +30
//	contract actor       code at address                    -10     contract_account
//	low balance          balance < DustBalance              -10     low_balance
//	no activity          nonce 0 or unknown                 -5      no_activity
//	empty fresh account  low balance and no activity        -15
//	established          nonce >= EstablishedActivity       +5
//	degraded telemetry   chain reads failed                 -10     telemetry_degraded
//	vpn/proxy            edge reported VPN                  -10     vpn_detected
//	large amount         gross >= LargeAmount               -10     large_amount
const (
	Baseline = 50
	MinScore = 0
	MaxScore = 100

	// DefaultCutoff is the approval threshold. Scores equal to it approve.
	DefaultCutoff = 50

	TierLowMin    = 80
	TierMediumMin = 50

	PenaltySanctionsUnchecked = -5
	PenaltyKYCMissing         = -15
	BonusPerKYCTier           = 10
	MaxKYCBonus               = 30
	PenaltyContract           = -10
	PenaltyLowBalance         = -10
	PenaltyNoActivity         = -5
	PenaltyEmptyFreshAccount  = -15
	BonusEstablished          = 5
	PenaltyDegraded           = -10
	PenaltyVPN                = -10
	PenaltyLargeAmount        = -10

	EstablishedActivity = 10
)

var (
	// DustBalance is 0.001 of the native asset, in wei.
	DustBalance = big.NewInt(1_000_000_000_000_000)
	// LargeAmount is 10,000 in 6-decimal units.
	LargeAmount = new(big.Int).Mul(big.NewInt(10_000), usdc.One)
)

type facts struct {
	rec        *telemetry.Record
	intent     *Intent
	screening  sanctions.Result
	lowBalance bool
	noActivity bool
}

type rule struct {
	flag  Flag
	delta func(f *facts) (int, bool)
}

func fixed(delta int, cond func(f *facts) bool) func(f *facts) (int, bool) {
	return func(f *facts) (int, bool) {
		if cond(f) {
			return delta, true
		}
		return 0, false
	}
}

var rules = []rule{
	{FlagSanctionsUnchecked, fixed(PenaltySanctionsUnchecked, func(f *facts) bool {
		return f.screening == sanctions.ResultUnknown
	})},
	{FlagKYCMissing, fixed(PenaltyKYCMissing, func(f *facts) bool { return f.rec.KYCTier <= 0 })},
	{"", func(f *facts) (int, bool) {
		if f.rec.KYCTier <= 0 {
			return 0, false
		}
		return min(f.rec.KYCTier*BonusPerKYCTier, MaxKYCBonus), true
	}},
	{FlagContractAccount, fixed(PenaltyContract, func(f *facts) bool { return f.rec.IsContract })},
	{FlagLowBalance, fixed(PenaltyLowBalance, func(f *facts) bool { return f.lowBalance })},
	{FlagNoActivity, fixed(PenaltyNoActivity, func(f *facts) bool { return f.noActivity })},
	{"", fixed(PenaltyEmptyFreshAccount, func(f *facts) bool { return f.lowBalance && f.noActivity })},
	{"", fixed(BonusEstablished, func(f *facts) bool { return f.rec.Activity >= EstablishedActivity })},
	{FlagTelemetryDegraded, fixed(PenaltyDegraded, func(f *facts) bool { return f.rec.Degraded })},
	{FlagVPNDetected, fixed(PenaltyVPN, func(f *facts) bool { return f.rec.Network.VPN })},
	{FlagLargeAmount, fixed(PenaltyLargeAmount, func(f *facts) bool {
		return f.intent.Gross != nil && f.intent.Gross.Cmp(LargeAmount) >= 0
	})},
}
