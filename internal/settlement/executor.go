package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/fee"
	"github.com/mbd888/swapgate/internal/idgen"
	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/quote"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/syncutil"
	"github.com/mbd888/swapgate/internal/traces"
	"github.com/mbd888/swapgate/internal/usdc"
)

// spendRetention keeps spent markers well past the deadline.
const spendRetention = 24 * time.Hour

// Config identifies the executor and the issuer it trusts.
type Config struct {
	ChainID  *big.Int
	Address  common.Address
	Issuer   common.Address
	Treasury common.Address
}

// Executor verifies and settles authorizations.
type Executor struct {
	cfg      Config
	fees     *fee.Schedule
	spends   SpendStore
	funds    Funds
	prices   quote.Source
	receipts *receipts.Service
	now      func() time.Time
	onSpent  func(ctx context.Context, nonce string)

	// settling serializes in-process attempts on one nonce so a duplicate
	// observes the first attempt's receipt rather than racing it.
	settling *syncutil.KeyedMutex

	mu       sync.RWMutex
	treasury common.Address
	volume   *big.Int
	feeTotal *big.Int
	count    int64
}

// NewExecutor creates a settlement executor.
func NewExecutor(cfg Config, fees *fee.Schedule, spends SpendStore, funds Funds,
	prices quote.Source, rcpts *receipts.Service) *Executor {
	if cfg.ChainID == nil {
		cfg.ChainID = big.NewInt(1)
	}
	return &Executor{
		cfg:      cfg,
		fees:     fees,
		spends:   spends,
		funds:    funds,
		prices:   prices,
		receipts: rcpts,
		now:      time.Now,
		settling: syncutil.NewKeyedMutex(0),
		treasury: cfg.Treasury,
		volume:   new(big.Int),
		feeTotal: new(big.Int),
	}
}

// WithClock overrides the clock (for testing).
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// OnSpent registers a hook run after each successful settlement. The server
// uses it to mark the issuance ledger when both live in one process.
func (e *Executor) OnSpent(fn func(ctx context.Context, nonce string)) *Executor {
	e.onSpent = fn
	return e
}

// Execute verifies req and settles it, returning the receipt.
func (e *Executor) Execute(ctx context.Context, req *ExecuteRequest) (*receipts.Receipt, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "settlement.Execute",
		traces.Actor(strings.ToLower(req.Actor)), traces.Amount(req.Amount),
		traces.ServiceID(req.ServiceID), traces.Nonce(req.Nonce))
	defer span.End()

	r, err := e.execute(ctx, req)
	outcome := outcomeOf(err)
	settlementsTotal.WithLabelValues(outcome).Inc()
	settlementLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(traces.Outcome(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	span.SetAttributes(traces.ReceiptID(r.ID))
	return r, nil
}

func (e *Executor) execute(ctx context.Context, req *ExecuteRequest) (*receipts.Receipt, error) {
	log := logging.L(ctx)

	msg, err := authz.ParseMessage(authz.Fields{
		Actor:     req.Actor,
		Gross:     req.Amount,
		Net:       req.Net,
		ServiceID: req.ServiceID,
		Deadline:  req.Deadline,
		Nonce:     req.Nonce,
	}, e.cfg.ChainID, e.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	nonce := msg.Nonce.String()

	sig, err := authz.DecodeSignature(req.Signature)
	if err != nil {
		log.Error("malformed authorization signature", "nonce", nonce, "actor", req.Actor, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	signer, err := authz.RecoverSigner(msg.Digest(), sig)
	if err != nil || signer != e.cfg.Issuer {
		log.Error("authorization signature rejected, possible tampering",
			"nonce", nonce, "actor", req.Actor, "recovered", signer.Hex())
		return nil, ErrSignatureInvalid
	}

	now := e.now()
	if now.Unix() > msg.Deadline {
		log.Info("authorization expired", "nonce", nonce, "deadline", msg.Deadline)
		return nil, ErrAuthorizationExpired
	}

	rate := e.fees.Rate()
	feeAmt := new(big.Int).Sub(msg.Gross, msg.Net)
	if !fee.Check(msg.Gross, feeAmt, msg.Net, rate) {
		log.Warn("authorization fee does not match current rate", "nonce", nonce, "rateBps", rate)
		return nil, ErrFeeMismatch
	}

	price, err := e.prices.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	tokens, err := quote.TokensFor(msg.Net, price)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if req.MinReceived != "" {
		minReceived, err := decimal.NewFromString(req.MinReceived)
		if err != nil || minReceived.IsNegative() {
			return nil, fmt.Errorf("%w: minReceived %q", ErrInvalidRequest, req.MinReceived)
		}
		if tokens.LessThan(minReceived) {
			return nil, fmt.Errorf("%w: would receive %s, minimum %s", ErrSlippageExceeded, quote.Format(tokens), req.MinReceived)
		}
	}

	unlock, err := e.settling.LockContext(ctx, nonce)
	if err != nil {
		return nil, err
	}
	defer unlock()

	fresh, err := e.spends.MarkSpent(ctx, nonce, time.Unix(msg.Deadline, 0).Add(spendRetention))
	if err != nil {
		return nil, err
	}
	if !fresh {
		log.Info("duplicate settlement attempt", "nonce", nonce)
		return nil, ErrNonceAlreadySpent
	}

	treasury := e.Treasury()
	txRef := idgen.WithPrefix("swap_")
	err = e.funds.Settle(ctx, Transfer{
		Ref:      txRef,
		Actor:    msg.Actor.Hex(),
		Treasury: treasury.Hex(),
		Fee:      feeAmt,
		Net:      msg.Net,
		Tokens:   tokens,
	})
	if err != nil {
		// revert: the nonce becomes spendable again
		if rerr := e.spends.Release(context.WithoutCancel(ctx), nonce); rerr != nil {
			log.Error("failed to release nonce after failed transfer", "nonce", nonce, "error", rerr)
		}
		log.Warn("settlement transfer failed", "nonce", nonce, "error", err)
		if errors.Is(err, ErrInsufficientLiquidity) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	e.record(msg.Gross, feeAmt)
	if e.onSpent != nil {
		e.onSpent(ctx, nonce)
	}

	r, err := e.receipts.Issue(ctx, receipts.IssueRequest{
		TxRef:     txRef,
		Actor:     msg.Actor.Hex(),
		ServiceID: msg.ServiceID,
		Nonce:     nonce,
		Gross:     usdc.Format(msg.Gross),
		Fee:       usdc.Format(feeAmt),
		Net:       usdc.Format(msg.Net),
		Received:  quote.Format(tokens),
		Treasury:  treasury.Hex(),
		SettledAt: now,
	})
	if err != nil {
		// funds moved and the nonce stays spent; a retry reports already processed
		log.Error("settled but failed to issue receipt", "nonce", nonce, "txRef", txRef, "error", err)
		return nil, err
	}

	log.Info("swap settled",
		"nonce", nonce, "actor", r.Actor, "gross", r.Gross, "fee", r.Fee,
		"net", r.Net, "received", r.Received, "receiptId", r.ID)
	return r, nil
}

func (e *Executor) record(gross, feeAmt *big.Int) {
	e.mu.Lock()
	e.volume.Add(e.volume, gross)
	e.feeTotal.Add(e.feeTotal, feeAmt)
	e.count++
	e.mu.Unlock()

	volumeTotal.Add(usdcFloat(gross))
	feesTotal.Add(usdcFloat(feeAmt))
}

// IsSpent reports whether nonce has been settled.
func (e *Executor) IsSpent(ctx context.Context, nonce string) (bool, error) {
	return e.spends.IsSpent(ctx, nonce)
}

// ReceiptFor returns the receipt of a settled nonce. nonce is accepted in
// any form ParseNonce takes and looked up in canonical form.
func (e *Executor) ReceiptFor(ctx context.Context, nonce string) (*receipts.Receipt, error) {
	n, err := authz.ParseNonce(nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return e.receipts.GetByNonce(ctx, n.String())
}

// Treasury returns the account receiving fees.
func (e *Executor) Treasury() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.treasury
}

// SetTreasury changes the account receiving fees.
func (e *Executor) SetTreasury(addr string) error {
	if !common.IsHexAddress(addr) {
		return ErrInvalidTreasury
	}
	a := common.HexToAddress(addr)
	if a == (common.Address{}) {
		return ErrInvalidTreasury
	}
	e.mu.Lock()
	e.treasury = a
	e.mu.Unlock()
	return nil
}

// Stats returns running totals.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		TotalVolume:       usdc.Format(e.volume),
		TotalFees:         usdc.Format(e.feeTotal),
		TotalTransactions: e.count,
		FeeRateBps:        e.fees.Rate(),
		Treasury:          strings.ToLower(e.treasury.Hex()),
	}
}

func usdcFloat(v *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(v, -usdc.Decimals).Float64()
	return f
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, ErrNonceAlreadySpent):
		return "already_spent"
	case errors.Is(err, ErrAuthorizationExpired):
		return "expired"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrFeeMismatch):
		return "fee_mismatch"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrInsufficientLiquidity), errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
