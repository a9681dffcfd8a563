package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SpentChecker reports whether the executor has consumed a nonce.
type SpentChecker interface {
	IsSpent(ctx context.Context, nonce string) (bool, error)
}

// DefaultExpiryGrace delays expiry past the deadline to absorb clock skew
// between issuer and executor.
const DefaultExpiryGrace = time.Minute

// DefaultFinalizedRetention is how long past its deadline a finalized nonce
// stays in a ledger that implements Pruner.
const DefaultFinalizedRetention = 24 * time.Hour

// Timer periodically retires issued nonces whose deadline has passed. A
// nonce the executor already consumed is recorded as spent instead, so
// expiry and spend never both apply to one nonce.
type Timer struct {
	store    NonceStore
	spent    SpentChecker
	interval time.Duration
	grace    time.Duration
	retain   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a nonce expiry timer.
func NewTimer(store NonceStore, spent SpentChecker, logger *slog.Logger) *Timer {
	return &Timer{
		store:    store,
		spent:    spent,
		interval: 30 * time.Second,
		grace:    DefaultExpiryGrace,
		retain:   DefaultFinalizedRetention,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in nonce expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep retires one batch of expirable nonces and returns how many it moved.
// Stores that implement Pruner then drop finalized nonces past retention.
func (t *Timer) Sweep(ctx context.Context) int {
	moved := t.expire(ctx)
	if p, ok := t.store.(Pruner); ok {
		if n, err := p.Prune(ctx, t.now().Add(-t.retain)); err != nil {
			t.logger.Warn("failed to prune finalized nonces", "error", err)
		} else if n > 0 {
			t.logger.Debug("pruned finalized nonces", "count", n)
		}
	}
	return moved
}

func (t *Timer) expire(ctx context.Context) int {
	due, err := t.store.ListExpirable(ctx, t.now().Add(-t.grace), 100)
	if err != nil {
		t.logger.Warn("failed to list expirable nonces", "error", err)
		return 0
	}

	moved := 0
	for _, n := range due {
		status := StatusExpired
		if t.spent != nil {
			spent, err := t.spent.IsSpent(ctx, n.Nonce)
			if err != nil {
				// leave it issued; the next sweep retries
				t.logger.Warn("failed to check spend ledger", "nonce", n.Nonce, "error", err)
				continue
			}
			if spent {
				status = StatusSpent
			}
		}

		if err := t.store.Finalize(ctx, n.Nonce, status); err != nil {
			if !errors.Is(err, ErrNotIssued) {
				t.logger.Warn("failed to finalize nonce", "nonce", n.Nonce, "error", err)
			}
			continue
		}
		moved++
		if status == StatusExpired {
			noncesExpired.Inc()
			t.logger.Info("authorization expired unspent", "nonce", n.Nonce, "actor", n.Actor, "deadline", n.Deadline)
		}
	}
	return moved
}
