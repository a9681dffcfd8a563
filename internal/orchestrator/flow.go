package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/settlement"
)

// TelemetrySource gathers the client-side session fingerprint.
type TelemetrySource interface {
	Gather(ctx context.Context) Telemetry
}

// Authorizer asks the issuer for an authorization. A risk rejection is a
// Decision with Approved false, not an error.
type Authorizer interface {
	Authorize(ctx context.Context, req *authz.Request) (*authz.Decision, error)
}

// Settler submits an authorization to the executor.
type Settler interface {
	Settle(ctx context.Context, req *settlement.ExecuteRequest) (*receipts.Receipt, error)
}

// StaticTelemetry always reports the same fingerprint.
type StaticTelemetry Telemetry

func (s StaticTelemetry) Gather(context.Context) Telemetry { return Telemetry(s) }

// Flow is one swap attempt. Flows are independent; a user may run several
// concurrently, each with its own nonce.
type Flow struct {
	ID string

	telemetry  TelemetrySource
	authorizer Authorizer
	settler    Settler
	now        func() time.Time

	mu       sync.Mutex
	state    State
	inflight context.CancelFunc
}

// NewFlow creates a flow in the Input state.
func NewFlow(tel TelemetrySource, auth Authorizer, settler Settler) *Flow {
	return &Flow{
		ID:         uuid.NewString(),
		telemetry:  tel,
		authorizer: auth,
		settler:    settler,
		now:        time.Now,
		state:      Input{},
	}
}

// WithClock overrides the clock (for testing).
func (f *Flow) WithClock(now func() time.Time) *Flow {
	f.now = now
	return f
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) apply(ev Event) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := Transition(f.state, ev, f.now())
	if err != nil {
		if _, ok := f.state.(Cancelled); ok {
			return f.state, ErrCancelled
		}
		return f.state, err
	}
	f.state = next
	return next, nil
}

// begin derives a cancellable context for one blocking call so Cancel can
// abort it.
func (f *Flow) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.inflight = cancel
	f.mu.Unlock()
	return ctx, func() {
		f.mu.Lock()
		f.inflight = nil
		f.mu.Unlock()
		cancel()
	}
}

// Evaluate runs intent through telemetry and evaluation. It ends in
// Approved, Rejected, or back in Input if the issuer could not be reached.
func (f *Flow) Evaluate(ctx context.Context, intent Intent) (State, error) {
	if intent.ServiceID == "" {
		intent.ServiceID = f.ID
	}
	if _, err := f.apply(Submit{Intent: intent}); err != nil {
		return f.State(), err
	}

	ctx, done := f.begin(ctx)
	defer done()

	tel := f.telemetry.Gather(ctx)
	if _, err := f.apply(TelemetryGathered{Telemetry: tel}); err != nil {
		return f.State(), err
	}

	decision, err := f.authorizer.Authorize(ctx, &authz.Request{
		Actor:     intent.Actor,
		Amount:    intent.Amount,
		Asset:     intent.Asset,
		ServiceID: intent.ServiceID,
		MinNet:    intent.MinNet,
		Session:   tel.Session,
		Network:   tel.Network,
	})
	if err != nil {
		logging.L(ctx).Warn("swap evaluation failed", "flow", f.ID, "error", err)
		if st, aerr := f.apply(EvaluationFailed{Err: err}); aerr != nil {
			return st, aerr
		}
		return f.State(), fmt.Errorf("orchestrator: evaluate: %w", err)
	}
	return f.apply(Evaluated{Decision: *decision})
}

// Execute submits the approved authorization. A retryable failure leaves
// the flow in Approved so Execute can be called again. An expired
// authorization, or one whose signature the executor rejects, sends it back
// to Input.
func (f *Flow) Execute(ctx context.Context) (State, error) {
	st, err := f.apply(Confirm{})
	if err != nil {
		return st, err
	}
	if _, ok := st.(Input); ok {
		return st, settlement.ErrAuthorizationExpired
	}
	signing := st.(Signing)

	ctx, done := f.begin(ctx)
	defer done()

	a := signing.Authorization
	rcpt, err := f.settler.Settle(ctx, &settlement.ExecuteRequest{
		Actor:       a.Actor,
		Amount:      a.Gross,
		Net:         a.Net,
		ServiceID:   a.ServiceID,
		Deadline:    a.Deadline,
		Nonce:       a.Nonce,
		Signature:   a.Signature,
		MinReceived: signing.Intent.MinReceived,
	})
	if err != nil {
		next, aerr := f.apply(SettlementFailed{Err: err})
		if aerr != nil {
			return next, aerr
		}
		if s, ok := next.(Succeeded); ok && s.AlreadyProcessed {
			return next, nil
		}
		logging.L(ctx).Warn("swap execution failed", "flow", f.ID, "nonce", a.Nonce, "state", next.Name(), "error", err)
		return next, err
	}
	return f.apply(Settled{Receipt: rcpt})
}

// Run evaluates intent and, if approved, executes it once.
func (f *Flow) Run(ctx context.Context, intent Intent) (State, error) {
	st, err := f.Evaluate(ctx, intent)
	if err != nil {
		return st, err
	}
	if _, ok := st.(Approved); !ok {
		return st, nil
	}
	return f.Execute(ctx)
}

// Cancel stops the flow and aborts any in-flight call. The authorization,
// if any, is discarded.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := Transition(f.state, Cancel{}, f.now())
	if err != nil {
		return err
	}
	f.state = next
	if f.inflight != nil {
		f.inflight()
	}
	return nil
}

// IsRetryable reports whether err leaves the flow able to call Execute again.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, settlement.ErrNonceAlreadySpent),
		errors.Is(err, settlement.ErrAuthorizationExpired),
		errors.Is(err, settlement.ErrSignatureInvalid),
		errors.Is(err, ErrCancelled),
		errors.Is(err, ErrTerminal):
		return false
	}
	return true
}
