// Package sanctions screens actor addresses against a sanctions list.
//
// The list itself is an external collaborator. This package provides the
// screening contract, an HTTP client for a remote screening service, a
// static list that can be refreshed from a URL, and the explicit policy that
// decides what an unavailable service means.
package sanctions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrUnavailable = errors.New("sanctions: screening service unavailable")

// Result is the outcome of screening one address.
type Result int

const (
	ResultClear   Result = iota // not on the list
	ResultHit                   // listed: unconditional rejection
	ResultUnknown               // service unavailable, proceeding under fail-open
)

func (r Result) String() string {
	switch r {
	case ResultClear:
		return "clear"
	case ResultHit:
		return "hit"
	case ResultUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Policy decides how an unavailable screening service is treated. There is
// no default: deployments must pick one.
type Policy string

const (
	// FailClosed blocks issuance while the service is unavailable.
	FailClosed Policy = "fail_closed"
	// FailOpen proceeds to scoring with ResultUnknown, which carries a penalty flag.
	FailOpen Policy = "fail_open"
)

// ParsePolicy validates a configured policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case FailClosed, FailOpen:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("sanctions: policy must be %q or %q, got %q", FailClosed, FailOpen, s)
	}
}

// Checker reports whether an address is sanctioned.
type Checker interface {
	IsSanctioned(ctx context.Context, address string) (bool, error)
}

var screenings = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "swapgate",
	Subsystem: "sanctions",
	Name:      "screenings_total",
	Help:      "Sanctions screenings by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(screenings)
}

// Screener applies a timeout and the unavailability policy to a Checker.
type Screener struct {
	checker Checker
	timeout time.Duration
	policy  Policy
}

// NewScreener creates a screener. timeout bounds each check.
func NewScreener(checker Checker, timeout time.Duration, policy Policy) (*Screener, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if checker == nil {
		return nil, errors.New("sanctions: checker is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Screener{checker: checker, timeout: timeout, policy: policy}, nil
}

// Policy returns the configured unavailability policy.
func (s *Screener) Policy() Policy { return s.policy }

// Screen checks address. Under FailClosed an unavailable service returns an
// error wrapping ErrUnavailable; under FailOpen it returns ResultUnknown.
func (s *Screener) Screen(ctx context.Context, address string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hit, err := s.checker.IsSanctioned(ctx, address)
	if err != nil {
		if s.policy == FailOpen {
			screenings.WithLabelValues(ResultUnknown.String()).Inc()
			return ResultUnknown, nil
		}
		screenings.WithLabelValues("unavailable").Inc()
		return ResultUnknown, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if hit {
		screenings.WithLabelValues(ResultHit.String()).Inc()
		return ResultHit, nil
	}
	screenings.WithLabelValues(ResultClear.String()).Inc()
	return ResultClear, nil
}
