package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/settlement"
	"github.com/mbd888/swapgate/internal/telemetry"
)

type fakeAuthorizer struct {
	mu       sync.Mutex
	decision *authz.Decision
	err      error
	block    bool
	requests []*authz.Request
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, req *authz.Request) (*authz.Decision, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.decision, f.err
}

type fakeSettler struct {
	mu       sync.Mutex
	errs     []error // returned in order, then success
	requests []*settlement.ExecuteRequest
}

func (f *fakeSettler) Settle(_ context.Context, req *settlement.ExecuteRequest) (*receipts.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.requests) <= len(f.errs) {
		return nil, f.errs[len(f.requests)-1]
	}
	return &receipts.Receipt{ID: "rcpt_1", Nonce: req.Nonce, Net: req.Net}, nil
}

func newTestFlow(auth Authorizer, settler Settler, now *time.Time) *Flow {
	tel := StaticTelemetry{Session: telemetry.Session{Timezone: "UTC"}, Network: telemetry.NetworkFlags{Known: true}}
	return NewFlow(tel, auth, settler).WithClock(func() time.Time { return *now })
}

func approve(deadline time.Time) *fakeAuthorizer {
	return &fakeAuthorizer{decision: &authz.Decision{Approved: true, Authorization: testAuth(deadline), Score: 70, Tier: risk.TierMedium}}
}

func TestFlow_Run(t *testing.T) {
	now := t0
	auth := approve(t0.Add(5 * time.Minute))
	settler := &fakeSettler{}
	f := newTestFlow(auth, settler, &now)

	intent := testIntent()
	intent.MinReceived = "1900"
	st, err := f.Run(context.Background(), intent)
	require.NoError(t, err)
	require.IsType(t, Succeeded{}, st)
	assert.Equal(t, "rcpt_1", st.(Succeeded).Receipt.ID)

	require.Len(t, auth.requests, 1)
	assert.Equal(t, "UTC", auth.requests[0].Session.Timezone)
	assert.Equal(t, "order-1", auth.requests[0].ServiceID)

	require.Len(t, settler.requests, 1)
	req := settler.requests[0]
	a := auth.decision.Authorization
	assert.Equal(t, a.Gross, req.Amount)
	assert.Equal(t, a.Net, req.Net)
	assert.Equal(t, a.Nonce, req.Nonce)
	assert.Equal(t, a.Signature, req.Signature)
	assert.Equal(t, a.Deadline, req.Deadline)
	assert.Equal(t, "1900", req.MinReceived)
}

func TestFlow_GeneratesServiceID(t *testing.T) {
	now := t0
	auth := approve(t0.Add(time.Minute))
	f := newTestFlow(auth, &fakeSettler{}, &now)

	intent := testIntent()
	intent.ServiceID = ""
	_, err := f.Evaluate(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, f.ID, auth.requests[0].ServiceID)
	assert.NotEqual(t, f.ID, NewFlow(nil, nil, nil).ID)
}

func TestFlow_Rejected(t *testing.T) {
	now := t0
	auth := &fakeAuthorizer{decision: &authz.Decision{Score: 5, Tier: risk.TierHigh, Flags: []risk.Flag{risk.FlagSanctionsHit}}}
	settler := &fakeSettler{}
	f := newTestFlow(auth, settler, &now)

	st, err := f.Run(context.Background(), testIntent())
	require.NoError(t, err)
	assert.IsType(t, Rejected{}, st)
	assert.Empty(t, settler.requests)

	_, err = f.Execute(context.Background())
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestFlow_EvaluationError(t *testing.T) {
	now := t0
	auth := &fakeAuthorizer{err: errors.New("issuer down")}
	f := newTestFlow(auth, &fakeSettler{}, &now)

	st, err := f.Evaluate(context.Background(), testIntent())
	assert.Error(t, err)
	assert.Equal(t, Input{Reason: ReasonEvaluationFailed}, st)

	// the flow can start over
	auth.err = nil
	auth.decision = approve(t0.Add(time.Minute)).decision
	st, err = f.Evaluate(context.Background(), testIntent())
	require.NoError(t, err)
	assert.IsType(t, Approved{}, st)
}

func TestFlow_RetryWithoutReevaluation(t *testing.T) {
	now := t0
	auth := approve(t0.Add(5 * time.Minute))
	settler := &fakeSettler{errs: []error{settlement.ErrTransferFailed}}
	f := newTestFlow(auth, settler, &now)

	st, err := f.Run(context.Background(), testIntent())
	assert.ErrorIs(t, err, settlement.ErrTransferFailed)
	assert.True(t, IsRetryable(err))
	assert.IsType(t, Approved{}, st)

	now = now.Add(time.Minute)
	st, err = f.Execute(context.Background())
	require.NoError(t, err)
	assert.IsType(t, Succeeded{}, st)
	assert.Len(t, auth.requests, 1, "risk evaluation is not re-run")
	assert.Equal(t, settler.requests[0].Nonce, settler.requests[1].Nonce)
}

func TestFlow_ExpiredBeforeExecute(t *testing.T) {
	now := t0
	settler := &fakeSettler{}
	f := newTestFlow(approve(t0.Add(time.Minute)), settler, &now)

	_, err := f.Evaluate(context.Background(), testIntent())
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	st, err := f.Execute(context.Background())
	assert.ErrorIs(t, err, settlement.ErrAuthorizationExpired)
	assert.Equal(t, Input{Reason: ReasonExpired}, st)
	assert.Empty(t, settler.requests, "a stale authorization is never submitted")
}

func TestFlow_SignatureInvalidDiscardsAuthorization(t *testing.T) {
	now := t0
	settler := &fakeSettler{errs: []error{settlement.ErrSignatureInvalid}}
	f := newTestFlow(approve(t0.Add(time.Minute)), settler, &now)

	st, err := f.Run(context.Background(), testIntent())
	assert.ErrorIs(t, err, settlement.ErrSignatureInvalid)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, Input{Reason: ReasonRejectedByChain}, st)

	_, err = f.Execute(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, settler.requests, 1, "the rejected authorization is not resubmitted")
}

func TestFlow_AlreadyProcessedIsSuccess(t *testing.T) {
	now := t0
	settler := &fakeSettler{errs: []error{settlement.ErrNonceAlreadySpent}}
	f := newTestFlow(approve(t0.Add(time.Minute)), settler, &now)

	st, err := f.Run(context.Background(), testIntent())
	require.NoError(t, err)
	assert.Equal(t, Succeeded{AlreadyProcessed: true}, st)
	assert.False(t, IsRetryable(settlement.ErrNonceAlreadySpent))
}

func TestFlow_CancelApproved(t *testing.T) {
	now := t0
	settler := &fakeSettler{}
	f := newTestFlow(approve(t0.Add(time.Minute)), settler, &now)

	_, err := f.Evaluate(context.Background(), testIntent())
	require.NoError(t, err)
	require.NoError(t, f.Cancel())
	assert.Equal(t, Cancelled{}, f.State())

	_, err = f.Execute(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, settler.requests)
	assert.ErrorIs(t, f.Cancel(), ErrTerminal)
}

func TestFlow_CancelInFlight(t *testing.T) {
	now := t0
	auth := &fakeAuthorizer{block: true}
	f := newTestFlow(auth, &fakeSettler{}, &now)

	done := make(chan error, 1)
	go func() {
		_, err := f.Evaluate(context.Background(), testIntent())
		done <- err
	}()

	require.Eventually(t, func() bool { return f.State().Name() == "evaluating" }, time.Second, time.Millisecond)
	require.NoError(t, f.Cancel())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("evaluation was not aborted")
	}
	assert.Equal(t, Cancelled{}, f.State())
}

func TestFlow_IndependentAttempts(t *testing.T) {
	now := t0
	settler := &fakeSettler{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := newTestFlow(approve(t0.Add(time.Minute)), settler, &now)
			st, err := f.Run(context.Background(), testIntent())
			assert.NoError(t, err)
			assert.IsType(t, Succeeded{}, st)
		}()
	}
	wg.Wait()
	assert.Len(t, settler.requests, 10)
}
