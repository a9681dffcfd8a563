// Package swapclient is the Go client for the swapgate HTTP API. It
// implements the orchestrator's Authorizer and Settler over the wire.
package swapclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/fee"
	"github.com/mbd888/swapgate/internal/orchestrator"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/security"
	"github.com/mbd888/swapgate/internal/settlement"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// ErrTransport wraps failures to reach the gateway at all.
var ErrTransport = errors.New("swapclient: transport error")

// Client talks to a swapgate server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	adminSecret string
	userAgent   string
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAdminSecret enables the operator calls.
func WithAdminSecret(secret string) Option {
	return func(c *Client) { c.adminSecret = secret }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the gateway at baseURL (e.g. "https://swap.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: "swapgate-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ orchestrator.Authorizer = (*Client)(nil)
	_ orchestrator.Settler    = (*Client)(nil)
)

// Info is the gateway's public configuration.
type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	ChainID    int64  `json:"chainId"`
	Executor   string `json:"executor"`
	Issuer     string `json:"issuer"`
	DomainTag  string `json:"domainTag"`
	FeeRateBps int    `json:"feeRateBps"`
	MinSwap    string `json:"minSwap"`
}

// Info fetches GET /v1/info.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.call(ctx, http.MethodGet, "/v1/info", nil, &info, nil); err != nil {
		return nil, err
	}
	return &info, nil
}

// Authorize requests an authorization. A risk rejection is not an error: it
// comes back as a Decision with Approved false.
func (c *Client) Authorize(ctx context.Context, req *authz.Request) (*authz.Decision, error) {
	var d authz.Decision
	if err := c.call(ctx, http.MethodPost, "/v1/authorizations", req, &d, issuanceErrors); err != nil {
		return nil, err
	}
	if d.Approved && d.Authorization == nil {
		return nil, fmt.Errorf("swapclient: approval without authorization")
	}
	return &d, nil
}

// NonceStatus fetches the issuance status of a nonce.
func (c *Client) NonceStatus(ctx context.Context, nonce string) (*authz.NonceStatus, error) {
	var st authz.NonceStatus
	if err := c.call(ctx, http.MethodGet, "/v1/authorizations/"+url.PathEscape(nonce), nil, &st, issuanceErrors); err != nil {
		return nil, err
	}
	return &st, nil
}

// Settle submits an execution request. On already_processed the returned
// error unwraps to settlement.ErrNonceAlreadySpent and the prior receipt,
// when the server has it, is returned alongside.
func (c *Client) Settle(ctx context.Context, req *settlement.ExecuteRequest) (*receipts.Receipt, error) {
	var out struct {
		Receipt *receipts.Receipt `json:"receipt"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/settlements", req, &out, settlementErrors)
	return out.Receipt, err
}

// Receipt fetches a receipt by ID.
func (c *Client) Receipt(ctx context.Context, id string) (*receipts.Receipt, error) {
	var out struct {
		Receipt *receipts.Receipt `json:"receipt"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/receipts/"+url.PathEscape(id), nil, &out, nil); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

// ReceiptForNonce fetches the receipt that consumed nonce.
func (c *Client) ReceiptForNonce(ctx context.Context, nonce string) (*receipts.Receipt, error) {
	var out struct {
		Receipt *receipts.Receipt `json:"receipt"`
	}
	path := "/v1/authorizations/" + url.PathEscape(nonce) + "/receipt"
	if err := c.call(ctx, http.MethodGet, path, nil, &out, receiptErrors); err != nil {
		return nil, err
	}
	return out.Receipt, nil
}

// VerifyReceipt asks the gateway to check a receipt's signature.
func (c *Client) VerifyReceipt(ctx context.Context, id string) (*receipts.VerifyResponse, error) {
	var out struct {
		Verification receipts.VerifyResponse `json:"verification"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/receipts/"+url.PathEscape(id)+"/verify", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out.Verification, nil
}

// PreviewFee returns the fee breakdown the gateway would apply to amount.
func (c *Client) PreviewFee(ctx context.Context, amount string) (*fee.View, error) {
	var out struct {
		Fee fee.View `json:"fee"`
	}
	path := "/v1/fees/preview?" + url.Values{"amount": {amount}}.Encode()
	if err := c.call(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, err
	}
	return &out.Fee, nil
}

// Stats fetches executor statistics.
func (c *Client) Stats(ctx context.Context) (*settlement.Stats, error) {
	var out struct {
		Stats settlement.Stats `json:"stats"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/stats", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out.Stats, nil
}

// SetFeeRate updates the fee rate. Requires WithAdminSecret.
func (c *Client) SetFeeRate(ctx context.Context, rateBps int) error {
	return c.call(ctx, http.MethodPut, "/v1/admin/fee-rate", map[string]int{"rateBps": rateBps}, nil, nil)
}

// SetTreasury updates the treasury address. Requires WithAdminSecret.
func (c *Client) SetTreasury(ctx context.Context, address string) error {
	return c.call(ctx, http.MethodPut, "/v1/admin/treasury", map[string]string{"address": address}, nil, settlementErrors)
}

// SetKYCTier records an actor's verification tier. Requires WithAdminSecret.
func (c *Client) SetKYCTier(ctx context.Context, actor string, tier int) error {
	return c.call(ctx, http.MethodPut, "/v1/admin/kyc/"+url.PathEscape(actor), map[string]int{"tier": tier}, nil, nil)
}

// call performs one JSON round trip. Non-2xx responses become *APIError;
// out is still decoded for them so callers can read partial bodies.
func (c *Client) call(ctx context.Context, method, path string, in, out any, sentinels map[string]error) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("swapclient: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("swapclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminSecret != "" && strings.HasPrefix(path, "/v1/admin/") {
		req.Header.Set(security.AdminHeader, c.adminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("swapclient: decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	apiErr.sentinel = sentinels[apiErr.Code]
	if out != nil {
		_ = json.Unmarshal(raw, out)
	}
	return apiErr
}
