package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/config"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/settlement"
	"github.com/mbd888/swapgate/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSigningKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	adminSecret    = "test-admin-secret"
	goodActor      = "0x1000000000000000000000000000000000000001"
	newActor       = "0x2000000000000000000000000000000000000002"
	blockedActor   = "0x3000000000000000000000000000000000000003"
)

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                     "0",
		Env:                      "test",
		LogLevel:                 "error",
		LogFormat:                "json",
		ChainID:                  config.DefaultChainID,
		SigningKey:               testSigningKey,
		SigningTimeout:           time.Second,
		ExecutorAddress:          "0xE0000000000000000000000000000000000000E0",
		TreasuryAddress:          "0x7000000000000000000000000000000000000007",
		FeeRateBps:               50,
		TokenPrice:               "0.50",
		TokenInventory:           "1000000",
		ApprovalCutoff:           50,
		DeadlineWindow:           5 * time.Minute,
		MinSwapAmount:            "1",
		TelemetryTimeout:         time.Second,
		SanctionsTimeout:         time.Second,
		SanctionsPolicy:          "fail_closed",
		SanctionsList:            []string{blockedActor},
		SanctionsRefreshInterval: time.Minute,
		AdminSecret:              adminSecret,
		ReceiptHMACSecret:        "receipt-secret",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	chain := telemetry.NewStaticChain()
	established := telemetry.StaticAccount{
		Balance: new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000)),
		Nonce:   250,
	}
	chain.Set(goodActor, established)
	chain.Set(newActor, established)
	chain.Set(blockedActor, established)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(testConfig(), WithLogger(logger), WithChain(chain))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func (s *Server) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *Server) setKYC(t *testing.T, actor string, tier int) {
	t.Helper()
	w := s.do(t, "PUT", "/v1/admin/kyc/"+actor, gin.H{"tier": tier}, "X-Admin-Secret", adminSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (s *Server) authorize(t *testing.T, actor, amount string) authz.Decision {
	t.Helper()
	w := s.do(t, "POST", "/v1/authorizations", authz.Request{
		Actor:     actor,
		Amount:    amount,
		Asset:     "BEZ",
		ServiceID: "order-" + amount,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[authz.Decision](t, w)
}

func executeRequest(a *authz.Authorization) settlement.ExecuteRequest {
	return settlement.ExecuteRequest{
		Actor:     a.Actor,
		Amount:    a.Gross,
		Net:       a.Net,
		ServiceID: a.ServiceID,
		Deadline:  a.Deadline,
		Nonce:     a.Nonce,
		Signature: a.Signature,
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "signer", resp.Checks[0].Name)

	w = s.do(t, "GET", "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run marks it
	w = s.do(t, "GET", "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/health/live", nil, "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = s.do(t, "GET", "/health/live", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/v1/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]any](t, w)
	assert.Equal(t, "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23", info["issuer"])
	assert.Equal(t, "0xe0000000000000000000000000000000000000e0", info["executor"])
	assert.Equal(t, authz.DomainTag, info["domainTag"])
	assert.EqualValues(t, 50, info["feeRateBps"])
}

func TestSwapEndToEnd(t *testing.T) {
	s := newTestServer(t)
	s.setKYC(t, goodActor, 3)

	decision := s.authorize(t, goodActor, "1000")
	require.True(t, decision.Approved, "decision: %+v", decision)
	auth := decision.Authorization
	require.NotNil(t, auth)
	assert.Equal(t, "5.000000", auth.Fee)
	assert.Equal(t, "995.000000", auth.Net)
	assert.Equal(t, risk.TierLow, auth.Tier)

	// Issued but not spent
	w := s.do(t, "GET", "/v1/authorizations/"+auth.Nonce, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[authz.NonceStatus](t, w)
	assert.Equal(t, authz.StatusIssued, status.Status)
	assert.False(t, status.Spent)

	// Settle
	w = s.do(t, "POST", "/v1/settlements", executeRequest(auth))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	settled := decode[struct {
		Receipt receipts.Receipt `json:"receipt"`
	}](t, w)
	assert.Equal(t, "1990.000000000000000000", settled.Receipt.Received)
	assert.NotEmpty(t, settled.Receipt.Signature)

	// Replay is rejected and points at the original receipt
	w = s.do(t, "POST", "/v1/settlements", executeRequest(auth))
	require.Equal(t, http.StatusConflict, w.Code)
	replay := decode[struct {
		Error   string           `json:"error"`
		Receipt receipts.Receipt `json:"receipt"`
	}](t, w)
	assert.Equal(t, "already_processed", replay.Error)
	assert.Equal(t, settled.Receipt.ID, replay.Receipt.ID)

	// An unprefixed upper-case nonce is the same nonce
	bare := executeRequest(auth)
	bare.Nonce = strings.ToUpper(strings.TrimPrefix(auth.Nonce, "0x"))
	w = s.do(t, "POST", "/v1/settlements", bare)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	replay.Receipt = receipts.Receipt{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
	assert.Equal(t, settled.Receipt.ID, replay.Receipt.ID)

	// Issuance ledger reflects the spend
	w = s.do(t, "GET", "/v1/authorizations/"+auth.Nonce, nil)
	status = decode[authz.NonceStatus](t, w)
	assert.Equal(t, authz.StatusSpent, status.Status)
	assert.True(t, status.Spent)

	// Receipt lookups
	w = s.do(t, "GET", "/v1/receipts/"+settled.Receipt.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "POST", "/v1/receipts/"+settled.Receipt.ID+"/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)

	// Stats
	w = s.do(t, "GET", "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		Stats settlement.Stats `json:"stats"`
	}](t, w)
	assert.EqualValues(t, 1, stats.Stats.TotalTransactions)
	assert.Equal(t, "1000.000000", stats.Stats.TotalVolume)
	assert.Equal(t, "5.000000", stats.Stats.TotalFees)
}

func TestSwap_TamperedNetRejected(t *testing.T) {
	s := newTestServer(t)
	s.setKYC(t, goodActor, 3)

	decision := s.authorize(t, goodActor, "250")
	require.True(t, decision.Approved)

	req := executeRequest(decision.Authorization)
	req.Net = "250.000000"
	w := s.do(t, "POST", "/v1/settlements", req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "signature_invalid")

	// The genuine request still settles
	w = s.do(t, "POST", "/v1/settlements", executeRequest(decision.Authorization))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSwap_FeeRateChangeInvalidatesOutstanding(t *testing.T) {
	s := newTestServer(t)
	s.setKYC(t, goodActor, 3)

	decision := s.authorize(t, goodActor, "100")
	require.True(t, decision.Approved)

	w := s.do(t, "PUT", "/v1/admin/fee-rate", gin.H{"rateBps": 100}, "X-Admin-Secret", adminSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "POST", "/v1/settlements", executeRequest(decision.Authorization))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "fee_mismatch")
}

func TestAuthorize_RejectedWithoutKYC(t *testing.T) {
	s := newTestServer(t)

	decision := s.authorize(t, newActor, "100")
	assert.False(t, decision.Approved)
	assert.Nil(t, decision.Authorization)
	assert.Less(t, decision.Score, 50)
	assert.Contains(t, decision.Flags, risk.FlagKYCMissing)
	assert.NotEmpty(t, decision.AssessmentID)
}

func TestAuthorize_SanctionedActorRejected(t *testing.T) {
	s := newTestServer(t)
	s.setKYC(t, blockedActor, 3)

	decision := s.authorize(t, blockedActor, "100")
	assert.False(t, decision.Approved)
	assert.Equal(t, 0, decision.Score)
	assert.Contains(t, decision.Flags, risk.FlagSanctionsHit)
}

func TestAuthorize_InvalidRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"malformed body", "not-json", http.StatusBadRequest},
		{"bad actor", authz.Request{Actor: "0x123", Amount: "10", ServiceID: "s"}, http.StatusBadRequest},
		{"below minimum", authz.Request{Actor: goodActor, Amount: "0.5", ServiceID: "s"}, http.StatusBadRequest},
		{"too many decimals", authz.Request{Actor: goodActor, Amount: "1.0000001", ServiceID: "s"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, "POST", "/v1/authorizations", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestGetNonce_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "GET", "/v1/authorizations/0x00000000000000000000000000000001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeePreview(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/v1/fees/preview?amount=1000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fee":"5.000000"`)
	assert.Contains(t, w.Body.String(), `"net":"995.000000"`)
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	s := newTestServer(t)

	routes := []struct{ method, path string }{
		{"PUT", "/v1/admin/fee-rate"},
		{"PUT", "/v1/admin/treasury"},
		{"PUT", "/v1/admin/kyc/" + goodActor},
	}
	for _, r := range routes {
		w := s.do(t, r.method, r.path, gin.H{})
		assert.Equal(t, http.StatusUnauthorized, w.Code, r.path)

		w = s.do(t, r.method, r.path, gin.H{}, "X-Admin-Secret", "wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code, r.path)
	}
}

func TestAdminSetTreasury(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "PUT", "/v1/admin/treasury",
		gin.H{"address": "0x8000000000000000000000000000000000000008"}, "X-Admin-Secret", adminSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.EqualFold(
		"0x8000000000000000000000000000000000000008", s.executor.Treasury().Hex()))

	w = s.do(t, "PUT", "/v1/admin/treasury",
		gin.H{"address": "0x0000000000000000000000000000000000000000"}, "X-Admin-Secret", adminSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNew_NoSignerOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.SigningKey = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)

	w := s.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_InvalidTokenPrice(t *testing.T) {
	cfg := testConfig()
	cfg.TokenPrice = "free"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_PRICE")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "GET", "/health/live", nil)

	w := s.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swapgate_http_requests_total")
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:***@db:5432/swapgate",
		maskDSN("postgres://app:hunter2@db:5432/swapgate"))
}
