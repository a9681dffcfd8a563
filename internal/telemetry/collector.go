package telemetry

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/swapgate/internal/logging"
)

// Collector produces telemetry records from the chain and the KYC source.
type Collector struct {
	chain   ChainReader
	kyc     KYCSource
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock sets the time source stamped on records.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector. chain may be nil, in which case every
// record is degraded; kyc may be nil, in which case every actor is tier 0.
func NewCollector(chain ChainReader, kyc KYCSource, opts ...Option) *Collector {
	c := &Collector{
		chain:   chain,
		kyc:     kyc,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers a snapshot for actor within the collector's timeout.
// Single attempt, no retries; read failures degrade the record.
func (c *Collector) Collect(ctx context.Context, actor string, session Session, network NetworkFlags) *Record {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rec := &Record{
		Actor:       strings.ToLower(actor),
		Balance:     new(big.Int),
		Activity:    ActivityUnknown,
		Session:     session,
		Network:     network,
		CollectedAt: c.now(),
	}

	if err := c.readChain(ctx, rec); err != nil {
		rec.Degraded = true
		rec.Balance = new(big.Int)
		rec.Activity = ActivityUnknown
		logging.L(ctx).Warn("telemetry degraded",
			"actor", rec.Actor,
			"error", err,
		)
	}

	if c.kyc != nil {
		tier, err := c.kyc.Tier(ctx, rec.Actor)
		if err != nil {
			logging.L(ctx).Warn("kyc lookup failed, using tier 0", "actor", rec.Actor, "error", err)
			tier = 0
		}
		rec.KYCTier = tier
	}

	return rec
}

func (c *Collector) readChain(ctx context.Context, rec *Record) error {
	if c.chain == nil {
		return ErrUnavailable
	}
	addr := common.HexToAddress(rec.Actor)

	bal, err := c.chain.BalanceAt(ctx, addr, nil)
	if err != nil {
		return wrap(err)
	}
	nonce, err := c.chain.NonceAt(ctx, addr, nil)
	if err != nil {
		return wrap(err)
	}
	code, err := c.chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return wrap(err)
	}

	if bal != nil {
		rec.Balance = new(big.Int).Set(bal)
	}
	rec.Activity = int64(nonce) //nolint:gosec // account nonces are far below MaxInt64
	rec.IsContract = len(code) > 0
	return nil
}

func wrap(err error) error { return fmt.Errorf("%w: %w", ErrUnavailable, err) }
