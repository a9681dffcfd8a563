package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/swapgate/internal/idgen"
)

const signatureValidity = 365 * 24 * time.Hour // receipts are proof documents

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
	now    func() time.Time
}

// NewService creates a new receipt service.
// If signer is nil, receipts are still stored but carry no signature.
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
		now:    time.Now,
	}
}

// Issue builds, signs and persists a receipt.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Receipt, error) {
	now := s.now().UTC()
	r := &Receipt{
		ID:        idgen.WithPrefix("rcpt_"),
		TxRef:     req.TxRef,
		Actor:     strings.ToLower(req.Actor),
		ServiceID: req.ServiceID,
		Nonce:     req.Nonce,
		Gross:     req.Gross,
		Fee:       req.Fee,
		Net:       req.Net,
		Received:  req.Received,
		Treasury:  strings.ToLower(req.Treasury),
		IssuedAt:  now,
		ExpiresAt: now.Add(signatureValidity),
		SettledAt: req.SettledAt.UTC().Truncate(time.Second),
	}

	payload := payloadOf(r)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	r.PayloadHash = fmt.Sprintf("%x", sha256.Sum256(data))

	if r.Signature, err = s.signer.Sign(payload); err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("receipts: failed to store: %w", err)
	}
	return r, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// GetByNonce returns the receipt that consumed nonce.
func (s *Service) GetByNonce(ctx context.Context, nonce string) (*Receipt, error) {
	return s.store.GetByNonce(ctx, strings.ToLower(nonce))
}

// ListByActor returns an actor's receipts, most recent first.
func (s *Service) ListByActor(ctx context.Context, actor string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByActor(ctx, strings.ToLower(actor), limit)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	valid := s.signer.Verify(payloadOf(receipt), receipt.Signature)

	resp := &VerifyResponse{
		Valid:     valid,
		ReceiptID: receiptID,
	}

	if valid && s.now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}

	if !valid {
		resp.Error = "signature verification failed"
	}

	return resp, nil
}
