// Package orchestrator drives one client-side swap attempt.
//
// Flow:
//  1. Input: the user supplies an intent
//  2. GatheringTelemetry: the session fingerprint is collected
//  3. Evaluating: the issuer scores the intent
//  4. Approved or Rejected
//  5. From Approved, Signing submits the authorization to the executor
//  6. Succeeded, or back to Approved on a retryable failure
//
// An authorization past its deadline is discarded and the flow restarts at
// Input. Cancel is allowed from any non-terminal state.
//
// Transition is pure. Flow wraps it with the I/O.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/settlement"
	"github.com/mbd888/swapgate/internal/telemetry"
)

var (
	ErrInvalidTransition = errors.New("orchestrator: invalid transition")
	ErrTerminal          = errors.New("orchestrator: flow already finished")
	ErrCancelled         = errors.New("orchestrator: flow cancelled")
)

// Reasons an attempt falls back to Input.
const (
	ReasonExpired          = "authorization expired"
	ReasonEvaluationFailed = "evaluation failed"
	ReasonRejectedByChain  = "authorization rejected by executor"
)

// Intent is what the user asked for.
type Intent struct {
	Actor     string
	Amount    string
	Asset     string
	ServiceID string
	MinNet    string
	// MinReceived bounds the tokens accepted at execution.
	MinReceived string
}

// Telemetry is the client-side portion of the telemetry snapshot.
type Telemetry struct {
	Session telemetry.Session
	Network telemetry.NetworkFlags
}

// State is one of Input, GatheringTelemetry, Evaluating, Approved, Rejected,
// Signing, Succeeded or Cancelled.
type State interface {
	Name() string
	Terminal() bool
	state()
}

type Input struct {
	// Reason is set when the flow fell back here.
	Reason string
}

type GatheringTelemetry struct {
	Intent Intent
}

type Evaluating struct {
	Intent    Intent
	Telemetry Telemetry
}

type Approved struct {
	Intent        Intent
	Authorization *authz.Authorization
	Decision      authz.Decision
	Attempts      int
	LastError     string
}

type Rejected struct {
	Intent   Intent
	Decision authz.Decision
}

type Signing struct {
	Intent        Intent
	Authorization *authz.Authorization
	Decision      authz.Decision
	Attempts      int
}

type Succeeded struct {
	Receipt *receipts.Receipt
	// AlreadyProcessed is set when the executor had already settled this
	// authorization; Receipt is nil then.
	AlreadyProcessed bool
}

type Cancelled struct{}

func (Input) Name() string              { return "input" }
func (GatheringTelemetry) Name() string { return "gathering_telemetry" }
func (Evaluating) Name() string         { return "evaluating" }
func (Approved) Name() string           { return "approved" }
func (Rejected) Name() string           { return "rejected" }
func (Signing) Name() string            { return "signing" }
func (Succeeded) Name() string          { return "succeeded" }
func (Cancelled) Name() string          { return "cancelled" }

func (Input) Terminal() bool              { return false }
func (GatheringTelemetry) Terminal() bool { return false }
func (Evaluating) Terminal() bool         { return false }
func (Approved) Terminal() bool           { return false }
func (Rejected) Terminal() bool           { return true }
func (Signing) Terminal() bool            { return false }
func (Succeeded) Terminal() bool          { return true }
func (Cancelled) Terminal() bool          { return true }

func (Input) state()              {}
func (GatheringTelemetry) state() {}
func (Evaluating) state()         {}
func (Approved) state()           {}
func (Rejected) state()           {}
func (Signing) state()            {}
func (Succeeded) state()          {}
func (Cancelled) state()          {}

// Event is one of Submit, TelemetryGathered, Evaluated, EvaluationFailed,
// Confirm, Settled, SettlementFailed or Cancel.
type Event interface {
	event()
}

type Submit struct{ Intent Intent }
type TelemetryGathered struct{ Telemetry Telemetry }
type Evaluated struct{ Decision authz.Decision }
type EvaluationFailed struct{ Err error }
type Confirm struct{}
type Settled struct{ Receipt *receipts.Receipt }
type SettlementFailed struct{ Err error }
type Cancel struct{}

func (Submit) event()            {}
func (TelemetryGathered) event() {}
func (Evaluated) event()         {}
func (EvaluationFailed) event()  {}
func (Confirm) event()           {}
func (Settled) event()           {}
func (SettlementFailed) event()  {}
func (Cancel) event()            {}

// Transition returns the state that follows s on ev at now. It has no side
// effects; an event that does not apply to s returns ErrInvalidTransition
// and s unchanged.
func Transition(s State, ev Event, now time.Time) (State, error) {
	if s.Terminal() {
		return s, ErrTerminal
	}
	if _, ok := ev.(Cancel); ok {
		return Cancelled{}, nil
	}

	switch st := s.(type) {
	case Input:
		if e, ok := ev.(Submit); ok {
			return GatheringTelemetry{Intent: e.Intent}, nil
		}

	case GatheringTelemetry:
		if e, ok := ev.(TelemetryGathered); ok {
			return Evaluating{Intent: st.Intent, Telemetry: e.Telemetry}, nil
		}

	case Evaluating:
		switch e := ev.(type) {
		case Evaluated:
			if !e.Decision.Approved {
				return Rejected{Intent: st.Intent, Decision: e.Decision}, nil
			}
			if e.Decision.Authorization == nil {
				return s, fmt.Errorf("%w: approval without authorization", ErrInvalidTransition)
			}
			if e.Decision.Authorization.Expired(now) {
				return Input{Reason: ReasonExpired}, nil
			}
			return Approved{Intent: st.Intent, Authorization: e.Decision.Authorization, Decision: e.Decision}, nil
		case EvaluationFailed:
			return Input{Reason: ReasonEvaluationFailed}, nil
		}

	case Approved:
		if _, ok := ev.(Confirm); ok {
			if st.Authorization.Expired(now) {
				return Input{Reason: ReasonExpired}, nil
			}
			return Signing{
				Intent:        st.Intent,
				Authorization: st.Authorization,
				Decision:      st.Decision,
				Attempts:      st.Attempts + 1,
			}, nil
		}

	case Signing:
		switch e := ev.(type) {
		case Settled:
			return Succeeded{Receipt: e.Receipt}, nil
		case SettlementFailed:
			switch {
			case errors.Is(e.Err, settlement.ErrNonceAlreadySpent):
				return Succeeded{AlreadyProcessed: true}, nil
			case errors.Is(e.Err, settlement.ErrAuthorizationExpired), st.Authorization.Expired(now):
				return Input{Reason: ReasonExpired}, nil
			case errors.Is(e.Err, settlement.ErrSignatureInvalid):
				// Resubmitting the same authorization cannot succeed.
				return Input{Reason: ReasonRejectedByChain}, nil
			}
			var msg string
			if e.Err != nil {
				msg = e.Err.Error()
			}
			return Approved{
				Intent:        st.Intent,
				Authorization: st.Authorization,
				Decision:      st.Decision,
				Attempts:      st.Attempts,
				LastError:     msg,
			}, nil
		}
	}

	return s, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, ev, s.Name())
}
