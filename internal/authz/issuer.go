package authz

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/swapgate/internal/fee"
	"github.com/mbd888/swapgate/internal/idgen"
	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/telemetry"
	"github.com/mbd888/swapgate/internal/traces"
	"github.com/mbd888/swapgate/internal/usdc"
	"github.com/mbd888/swapgate/internal/validation"
)

// Request is an issuance request as received from the client.
type Request struct {
	Actor     string                 `json:"actor"`
	Amount    string                 `json:"amount"`
	Asset     string                 `json:"asset"`
	ServiceID string                 `json:"serviceId"`
	MinNet    string                 `json:"minNet,omitempty"`
	Session   telemetry.Session      `json:"session"`
	Network   telemetry.NetworkFlags `json:"network"`
}

// Collector gathers the telemetry snapshot for an actor.
type Collector interface {
	Collect(ctx context.Context, actor string, session telemetry.Session, network telemetry.NetworkFlags) *telemetry.Record
}

// Screener screens an actor against the sanctions list.
type Screener interface {
	Screen(ctx context.Context, address string) (sanctions.Result, error)
}

// Config holds the issuer's deployment settings.
type Config struct {
	ChainID        *big.Int
	Executor       common.Address
	DeadlineWindow time.Duration
	SigningTimeout time.Duration
	MinSwapAmount  *big.Int
}

// Issuer runs the issuance pipeline: sanctions, telemetry, scoring, fee,
// nonce reservation and signing.
type Issuer struct {
	cfg         Config
	screener    Screener
	collector   Collector
	scorer      risk.Scorer
	assessments risk.Store
	fees        *fee.Schedule
	nonces      NonceStore
	signer      Signer
	newNonce    func() (Nonce, error)
	now         func() time.Time
}

// NewIssuer creates an issuer. signer may be nil, in which case every
// approved request fails with ErrSigningUnavailable.
func NewIssuer(cfg Config, screener Screener, collector Collector, scorer risk.Scorer,
	assessments risk.Store, fees *fee.Schedule, nonces NonceStore, signer Signer) *Issuer {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = DefaultDeadlineWindow
	}
	if cfg.DeadlineWindow > MaxDeadlineWindow {
		cfg.DeadlineWindow = MaxDeadlineWindow
	}
	if cfg.SigningTimeout <= 0 {
		cfg.SigningTimeout = DefaultSigningTimeout
	}
	if cfg.MinSwapAmount == nil {
		cfg.MinSwapAmount = new(big.Int).Set(usdc.One)
	}
	return &Issuer{
		cfg:         cfg,
		screener:    screener,
		collector:   collector,
		scorer:      scorer,
		assessments: assessments,
		fees:        fees,
		nonces:      nonces,
		signer:      signer,
		newNonce:    NewNonce,
		now:         time.Now,
	}
}

// WithClock overrides the clock (for testing).
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// WithNonceSource overrides nonce generation (for testing).
func (i *Issuer) WithNonceSource(fn func() (Nonce, error)) *Issuer {
	i.newNonce = fn
	return i
}

// IssuerAddress returns the address authorizations are signed by.
func (i *Issuer) IssuerAddress() (common.Address, bool) {
	if i.signer == nil {
		return common.Address{}, false
	}
	return i.signer.Address(), true
}

type parsedRequest struct {
	actor  common.Address
	gross  *big.Int
	minNet *big.Int
}

func (i *Issuer) validate(req *Request) (*parsedRequest, error) {
	if errs := validation.Validate(
		validation.Required("actor", req.Actor),
		validation.ValidAddress("actor", req.Actor),
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
		validation.Required("serviceId", req.ServiceID),
		validation.MaxLength("serviceId", req.ServiceID, 128),
		validation.MaxLength("asset", req.Asset, 32),
		validation.ValidAmount("minNet", req.MinNet),
	); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, errs.Error())
	}

	gross, ok := usdc.Parse(req.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: amount has more than %d decimals", ErrInvalidRequest, usdc.Decimals)
	}
	if gross.Cmp(i.cfg.MinSwapAmount) < 0 {
		return nil, fmt.Errorf("%w: minimum is %s", ErrAmountTooSmall, usdc.Format(i.cfg.MinSwapAmount))
	}
	p := &parsedRequest{actor: common.HexToAddress(req.Actor), gross: gross}
	if req.MinNet != "" {
		if p.minNet, ok = usdc.Parse(req.MinNet); !ok {
			return nil, fmt.Errorf("%w: minNet has more than %d decimals", ErrInvalidRequest, usdc.Decimals)
		}
	}
	return p, nil
}

// Issue evaluates req and returns a signed authorization. A risk rejection
// is a *RejectionError; no nonce is reserved for it.
func (i *Issuer) Issue(ctx context.Context, req *Request) (*Authorization, error) {
	start := time.Now()
	actor := strings.ToLower(req.Actor)
	ctx, span := traces.StartSpan(ctx, "authz.Issue",
		traces.Actor(actor), traces.Amount(req.Amount), traces.ServiceID(req.ServiceID))
	defer span.End()

	auth, err := i.issue(ctx, req)
	outcome := outcomeOf(err)
	issuanceTotal.WithLabelValues(outcome).Inc()
	issuanceLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Outcome(outcome))
	if err != nil && outcome != "rejected" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return auth, err
}

func (i *Issuer) issue(ctx context.Context, req *Request) (*Authorization, error) {
	log := logging.L(ctx)

	p, err := i.validate(req)
	if err != nil {
		return nil, err
	}
	actor := strings.ToLower(p.actor.Hex())

	screening, err := i.screener.Screen(ctx, actor)
	if err != nil {
		log.Error("sanctions screening unavailable, blocking issuance", "actor", actor, "error", err)
		return nil, err
	}
	if screening == sanctions.ResultUnknown {
		log.Warn("sanctions screening unavailable, proceeding under fail-open policy", "actor", actor)
	}

	rec := i.collector.Collect(ctx, actor, req.Session, req.Network)

	intent := &risk.Intent{
		Actor:     actor,
		Gross:     p.gross,
		Asset:     req.Asset,
		ServiceID: req.ServiceID,
		MinNet:    p.minNet,
	}
	now := i.now()
	assessment := i.scorer.Score(rec, intent, screening, idgen.WithPrefix("risk_"), now)
	risk.Observe(assessment)
	traces.Annotate(ctx, traces.Score(assessment.Score), traces.Tier(string(assessment.Tier)),
		traces.Flags(flagNames(assessment.Flags)))
	if i.assessments != nil {
		if err := i.assessments.Record(ctx, assessment); err != nil {
			log.Warn("failed to record risk assessment", "assessmentId", assessment.ID, "error", err)
		}
	}

	if !assessment.Approved {
		if assessment.Has(risk.FlagSanctionsHit) {
			log.Warn("sanctions hit, authorization refused", "actor", actor, "assessmentId", assessment.ID)
		} else {
			log.Info("authorization rejected by risk assessment",
				"actor", actor, "score", assessment.Score, "flags", assessment.Flags)
		}
		return nil, &RejectionError{Assessment: assessment}
	}

	breakdown, err := i.fees.Compute(p.gross)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if p.minNet != nil && breakdown.Net.Cmp(p.minNet) < 0 {
		return nil, fmt.Errorf("%w: net %s < %s", ErrMinNetUnmet, usdc.Format(breakdown.Net), usdc.Format(p.minNet))
	}

	if i.signer == nil {
		log.Error("no signing key configured")
		return nil, ErrSigningUnavailable
	}

	nonce, err := i.newNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", ErrSigningUnavailable, err)
	}
	deadline := now.Add(i.cfg.DeadlineWindow).Truncate(time.Second)
	issued := &IssuedNonce{
		Nonce:     nonce.String(),
		Actor:     actor,
		ServiceID: req.ServiceID,
		Gross:     usdc.Format(breakdown.Gross),
		Net:       usdc.Format(breakdown.Net),
		Deadline:  deadline,
		Status:    StatusIssued,
		IssuedAt:  now,
	}
	if err := i.nonces.Reserve(ctx, issued); err != nil {
		if errors.Is(err, ErrNonceCollision) {
			log.Error("nonce collision in issuance ledger", "nonce", issued.Nonce)
		}
		return nil, err
	}

	msg := &Message{
		ChainID:   i.cfg.ChainID,
		Executor:  i.cfg.Executor,
		Actor:     p.actor,
		Gross:     breakdown.Gross,
		Net:       breakdown.Net,
		ServiceID: req.ServiceID,
		Deadline:  deadline.Unix(),
		Nonce:     nonce,
	}
	sig, err := i.sign(ctx, msg.Digest())
	if err != nil {
		log.Error("signing failed, no authorization issued", "nonce", issued.Nonce, "error", err)
		if ferr := i.nonces.Finalize(context.WithoutCancel(ctx), issued.Nonce, StatusExpired); ferr != nil {
			log.Warn("failed to retire unsigned nonce", "nonce", issued.Nonce, "error", ferr)
		}
		return nil, err
	}

	log.Info("authorization issued",
		"actor", actor, "nonce", issued.Nonce, "gross", issued.Gross,
		"net", issued.Net, "score", assessment.Score, "deadline", deadline)

	return &Authorization{
		Actor:        actor,
		Gross:        issued.Gross,
		Fee:          usdc.Format(breakdown.Fee),
		Net:          issued.Net,
		ServiceID:    req.ServiceID,
		Deadline:     msg.Deadline,
		Nonce:        issued.Nonce,
		Signature:    EncodeSignature(sig),
		Issuer:       strings.ToLower(i.signer.Address().Hex()),
		ChainID:      i.cfg.ChainID.Int64(),
		Executor:     strings.ToLower(i.cfg.Executor.Hex()),
		FeeRateBps:   breakdown.RateBps,
		AssessmentID: assessment.ID,
		Score:        assessment.Score,
		Tier:         assessment.Tier,
		Flags:        assessment.Flags,
	}, nil
}

// sign enforces the signing timeout and checks the signature recovers to the
// configured key before anything leaves the issuer.
func (i *Issuer) sign(ctx context.Context, digest common.Hash) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.SigningTimeout)
	defer cancel()

	type result struct {
		sig []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sig, err := i.signer.SignDigest(ctx, digest)
		ch <- result{sig, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, ctx.Err())
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, r.err)
	}
	signer, err := RecoverSigner(digest, r.sig)
	if err != nil || signer != i.signer.Address() {
		return nil, fmt.Errorf("%w: signature does not recover to issuer key", ErrSigningUnavailable)
	}
	return r.sig, nil
}

func flagNames(flags []risk.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "issued"
	case errors.Is(err, ErrRiskRejected):
		return "rejected"
	case errors.Is(err, sanctions.ErrUnavailable):
		return "sanctions_unavailable"
	case errors.Is(err, ErrSigningUnavailable):
		return "signing_unavailable"
	case errors.Is(err, ErrNonceCollision):
		return "nonce_collision"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrAmountTooSmall), errors.Is(err, ErrMinNetUnmet):
		return "invalid"
	default:
		return "error"
	}
}
