package swapclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/config"
	"github.com/mbd888/swapgate/internal/orchestrator"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/server"
	"github.com/mbd888/swapgate/internal/settlement"
	"github.com/mbd888/swapgate/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	adminSecret = "client-admin-secret"
	actor       = "0x1000000000000000000000000000000000000001"
	issuerAddr  = "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Env:               "test",
		LogFormat:         "json",
		ChainID:           config.DefaultChainID,
		SigningKey:        "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		SigningTimeout:    time.Second,
		ExecutorAddress:   "0xE0000000000000000000000000000000000000E0",
		TreasuryAddress:   "0x7000000000000000000000000000000000000007",
		FeeRateBps:        50,
		TokenPrice:        "0.50",
		TokenInventory:    "1000000",
		ApprovalCutoff:    50,
		DeadlineWindow:    5 * time.Minute,
		MinSwapAmount:     "1",
		TelemetryTimeout:  time.Second,
		SanctionsTimeout:  time.Second,
		SanctionsPolicy:   "fail_closed",
		AdminSecret:       adminSecret,
		ReceiptHMACSecret: "receipt-secret",
	}
	chain := telemetry.NewStaticChain()
	chain.Set(actor, telemetry.StaticAccount{
		Balance: new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000)),
		Nonce:   250,
	})

	srv, err := server.New(cfg,
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		server.WithChain(chain))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func newVerifiedClient(t *testing.T) *Client {
	t.Helper()
	ts := newGateway(t)
	c := New(ts.URL, WithAdminSecret(adminSecret))
	require.NoError(t, c.SetKYCTier(context.Background(), actor, 3))
	return c
}

func TestInfo(t *testing.T) {
	c := New(newGateway(t).URL)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, issuerAddr, info.Issuer)
	assert.Equal(t, int64(config.DefaultChainID), info.ChainID)
	assert.Equal(t, authz.DomainTag, info.DomainTag)
	assert.Equal(t, 50, info.FeeRateBps)
}

func TestFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newVerifiedClient(t)

	flow := orchestrator.NewFlow(orchestrator.StaticTelemetry{}, c, c)
	st, err := flow.Run(ctx, orchestrator.Intent{
		Actor:  actor,
		Amount: "1000",
		Asset:  "BEZ",
	})
	require.NoError(t, err)
	done, ok := st.(orchestrator.Succeeded)
	require.True(t, ok, "state %s", st.Name())
	require.NotNil(t, done.Receipt)
	assert.Equal(t, "995.000000", done.Receipt.Net)
	assert.Equal(t, flow.ID, done.Receipt.ServiceID)

	status, err := c.NonceStatus(ctx, done.Receipt.Nonce)
	require.NoError(t, err)
	assert.True(t, status.Spent)

	v, err := c.VerifyReceipt(ctx, done.Receipt.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	fetched, err := c.Receipt(ctx, done.Receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Receipt.TxRef, fetched.TxRef)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalTransactions)
}

func TestSettle_ReplayReturnsPriorReceipt(t *testing.T) {
	ctx := context.Background()
	c := newVerifiedClient(t)

	d, err := c.Authorize(ctx, &authz.Request{Actor: actor, Amount: "20", ServiceID: "order-7"})
	require.NoError(t, err)
	require.True(t, d.Approved)
	a := d.Authorization
	req := &settlement.ExecuteRequest{
		Actor: a.Actor, Amount: a.Gross, Net: a.Net, ServiceID: a.ServiceID,
		Deadline: a.Deadline, Nonce: a.Nonce, Signature: a.Signature,
	}

	first, err := c.Settle(ctx, req)
	require.NoError(t, err)

	again, err := c.Settle(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrNonceAlreadySpent)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, orchestrator.IsRetryable(err))

	byNonce, err := c.ReceiptForNonce(ctx, a.Nonce)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byNonce.ID)

	_, err = c.ReceiptForNonce(ctx, "0x000000000000000000000000000000ff")
	assert.ErrorIs(t, err, receipts.ErrReceiptNotFound)
	_, err = c.ReceiptForNonce(ctx, "0x01")
	assert.ErrorIs(t, err, authz.ErrInvalidRequest)
}

func TestSettle_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	c := newVerifiedClient(t)

	d, err := c.Authorize(ctx, &authz.Request{Actor: actor, Amount: "20", ServiceID: "order-8"})
	require.NoError(t, err)
	a := d.Authorization
	base := settlement.ExecuteRequest{
		Actor: a.Actor, Amount: a.Gross, Net: a.Net, ServiceID: a.ServiceID,
		Deadline: a.Deadline, Nonce: a.Nonce, Signature: a.Signature,
	}

	tests := []struct {
		name   string
		mutate func(r *settlement.ExecuteRequest)
		want   error
	}{
		{"tampered amount", func(r *settlement.ExecuteRequest) { r.Amount = "2000" }, settlement.ErrSignatureInvalid},
		{"tampered deadline", func(r *settlement.ExecuteRequest) { r.Deadline-- }, settlement.ErrSignatureInvalid},
		{"garbage nonce", func(r *settlement.ExecuteRequest) { r.Nonce = "zz" }, settlement.ErrInvalidRequest},
		{"slippage", func(r *settlement.ExecuteRequest) { r.MinReceived = "1000000" }, settlement.ErrSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := c.Settle(ctx, &req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// None of the failures consumed the nonce
	_, err = c.Settle(ctx, &base)
	assert.NoError(t, err)
}

func TestAuthorize_RejectionIsNotAnError(t *testing.T) {
	c := New(newGateway(t).URL) // no KYC recorded

	d, err := c.Authorize(context.Background(), &authz.Request{Actor: actor, Amount: "20", ServiceID: "s"})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Flags, risk.FlagKYCMissing)
}

func TestAuthorize_InvalidRequest(t *testing.T) {
	c := New(newGateway(t).URL)

	_, err := c.Authorize(context.Background(), &authz.Request{Actor: "nope", Amount: "20", ServiceID: "s"})
	assert.ErrorIs(t, err, authz.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "400 invalid_request")
}

func TestPreviewFee(t *testing.T) {
	c := New(newGateway(t).URL)

	v, err := c.PreviewFee(context.Background(), "250")
	require.NoError(t, err)
	assert.Equal(t, "1.250000", v.Fee)
	assert.Equal(t, "248.750000", v.Net)
	assert.Equal(t, "0.5", v.FeePercentage)
}

func TestAdminCalls(t *testing.T) {
	ctx := context.Background()
	ts := newGateway(t)

	anon := New(ts.URL)
	err := anon.SetFeeRate(ctx, 100)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	admin := New(ts.URL, WithAdminSecret(adminSecret))
	require.NoError(t, admin.SetFeeRate(ctx, 100))
	info, err := admin.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, info.FeeRateBps)

	err = admin.SetTreasury(ctx, "0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, settlement.ErrInvalidTreasury)
}

func TestTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	c := New(ts.URL)
	_, err := c.Settle(context.Background(), &settlement.ExecuteRequest{})
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, orchestrator.IsRetryable(err))
}

func TestCallHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(ts.URL).Info(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAPIError_UnknownCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Info(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "I'm a teapot", apiErr.Code)
	assert.Nil(t, errors.Unwrap(apiErr))
}
