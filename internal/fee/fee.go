// Package fee computes the platform fee taken from a swap before the net
// amount is exchanged for the platform token.
//
// All on-chain-facing values are integer arithmetic over smallest units:
//
//	fee = floor(gross * rateBps / 10000)
//	net = gross - fee
//
// Rounding always favours the user, so the platform never receives more than
// the configured rate.
package fee

import (
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/mbd888/swapgate/internal/usdc"
	"github.com/shopspring/decimal"
)

const (
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10_000

	// DefaultRateBps is the platform fee (0.5%).
	DefaultRateBps = 50

	// MaxRateBps caps the fee at 5%; admin updates above it are refused.
	MaxRateBps = 500
)

var (
	ErrNegativeAmount = errors.New("fee: gross amount must not be negative")
	ErrRateOutOfRange = fmt.Errorf("fee: rate must be between 0 and %d bps", MaxRateBps)
)

// Breakdown is the split of a gross amount into fee and net.
type Breakdown struct {
	Gross   *big.Int `json:"-"`
	RateBps int      `json:"rateBps"`
	Fee     *big.Int `json:"-"`
	Net     *big.Int `json:"-"`
}

// Compute splits gross into fee and net at rateBps.
func Compute(gross *big.Int, rateBps int) (Breakdown, error) {
	if gross == nil || gross.Sign() < 0 {
		return Breakdown{}, ErrNegativeAmount
	}
	if err := ValidateRate(rateBps); err != nil {
		return Breakdown{}, err
	}

	f := new(big.Int).Mul(gross, big.NewInt(int64(rateBps)))
	f.Quo(f, big.NewInt(BpsDenominator)) // non-negative operands: truncation == floor
	net := new(big.Int).Sub(gross, f)

	return Breakdown{
		Gross:   new(big.Int).Set(gross),
		RateBps: rateBps,
		Fee:     f,
		Net:     net,
	}, nil
}

// ValidateRate reports whether rateBps is within [0, MaxRateBps].
func ValidateRate(rateBps int) error {
	if rateBps < 0 || rateBps > MaxRateBps {
		return ErrRateOutOfRange
	}
	return nil
}

// Check reports whether fee and net are exactly what Compute yields for gross.
func Check(gross, feeAmt, net *big.Int, rateBps int) bool {
	b, err := Compute(gross, rateBps)
	if err != nil || feeAmt == nil || net == nil {
		return false
	}
	return b.Fee.Cmp(feeAmt) == 0 && b.Net.Cmp(net) == 0
}

// View is the decimal-string rendering of a breakdown for API responses.
type View struct {
	Gross         string `json:"gross"`
	Fee           string `json:"fee"`
	Net           string `json:"net"`
	RateBps       int    `json:"rateBps"`
	FeePercentage string `json:"feePercentage"`
}

// View renders the breakdown with 6-decimal strings.
func (b Breakdown) View() View {
	return View{
		Gross:         usdc.Format(b.Gross),
		Fee:           usdc.Format(b.Fee),
		Net:           usdc.Format(b.Net),
		RateBps:       b.RateBps,
		FeePercentage: Percentage(b.RateBps),
	}
}

// Percentage renders basis points as a percentage string ("0.5" for 50 bps).
func Percentage(rateBps int) string {
	return decimal.New(int64(rateBps), -2).String()
}

// Preview is a client-side estimate. It uses decimal arithmetic on a float
// input and must never feed an authorization.
type Preview struct {
	TotalAmount   float64 `json:"totalAmount"`
	FeeAmount     float64 `json:"feeAmount"`
	NetAmount     float64 `json:"netAmount"`
	FeePercentage float64 `json:"feePercentage"`
}

// PreviewFloat estimates the breakdown of a float amount for display.
func PreviewFloat(amount float64, rateBps int) Preview {
	gross := decimal.NewFromFloat(amount)
	rate := decimal.New(int64(rateBps), 0).Div(decimal.New(BpsDenominator, 0))
	f := gross.Mul(rate).RoundDown(usdc.Decimals)
	net := gross.Sub(f)

	total, _ := gross.Float64()
	feeF, _ := f.Float64()
	netF, _ := net.Float64()
	pct, _ := decimal.New(int64(rateBps), -2).Float64()
	return Preview{TotalAmount: total, FeeAmount: feeF, NetAmount: netF, FeePercentage: pct}
}

// Schedule holds the live fee rate shared by the issuer and the executor.
type Schedule struct {
	rate atomic.Int64
}

// NewSchedule creates a schedule at rateBps.
func NewSchedule(rateBps int) (*Schedule, error) {
	if err := ValidateRate(rateBps); err != nil {
		return nil, err
	}
	s := &Schedule{}
	s.rate.Store(int64(rateBps))
	return s, nil
}

// Rate returns the current rate in basis points.
func (s *Schedule) Rate() int {
	return int(s.rate.Load())
}

// SetRate updates the rate. Rates above MaxRateBps are refused.
func (s *Schedule) SetRate(rateBps int) error {
	if err := ValidateRate(rateBps); err != nil {
		return err
	}
	s.rate.Store(int64(rateBps))
	return nil
}

// Compute splits gross at the current rate.
func (s *Schedule) Compute(gross *big.Int) (Breakdown, error) {
	return Compute(gross, s.Rate())
}
