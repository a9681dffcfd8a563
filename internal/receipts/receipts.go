// Package receipts issues signed settlement receipts.
//
// Every settled swap produces a receipt referencing the original service id
// and nonce. Receipts are HMAC-signed so the platform can later prove what it
// settled; anyone holding the receipt can ask the platform to verify it.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is the record of one settled swap.
type Receipt struct {
	ID          string    `json:"id"`
	TxRef       string    `json:"txRef"`
	Actor       string    `json:"actor"`
	ServiceID   string    `json:"serviceId"`
	Nonce       string    `json:"nonce"`
	Gross       string    `json:"amount"`   // USDC
	Fee         string    `json:"fee"`      // USDC, to the treasury
	Net         string    `json:"net"`      // USDC, swapped
	Received    string    `json:"received"` // platform token
	Treasury    string    `json:"treasury"`
	PayloadHash string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature   string    `json:"signature"`   // HMAC-SHA256, empty when signing is disabled
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	SettledAt   time.Time `json:"settledAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	TxRef     string
	Actor     string
	ServiceID string
	Nonce     string
	Gross     string
	Fee       string
	Net       string
	Received  string
	Treasury  string
	SettledAt time.Time
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipt data.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	ListByActor(ctx context.Context, actor string, limit int) ([]*Receipt, error)
	GetByNonce(ctx context.Context, nonce string) (*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Actor     string `json:"actor"`
	Fee       string `json:"fee"`
	Gross     string `json:"gross"`
	Net       string `json:"net"`
	Nonce     string `json:"nonce"`
	Received  string `json:"received"`
	ServiceID string `json:"serviceId"`
	SettledAt int64  `json:"settledAt"`
	Treasury  string `json:"treasury"`
	TxRef     string `json:"txRef"`
}

func payloadOf(r *Receipt) receiptPayload {
	return receiptPayload{
		Actor:     r.Actor,
		Fee:       r.Fee,
		Gross:     r.Gross,
		Net:       r.Net,
		Nonce:     r.Nonce,
		Received:  r.Received,
		ServiceID: r.ServiceID,
		SettledAt: r.SettledAt.Unix(),
		Treasury:  r.Treasury,
		TxRef:     r.TxRef,
	}
}
