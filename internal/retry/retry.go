// Package retry runs an operation with exponential backoff and jitter.
//
// It is used for background refreshes only. Request-path calls in the
// authorization flow are single-attempt.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy controls attempts and backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is 4 attempts starting at 500ms, capped at 10s.
var DefaultPolicy = Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Do calls fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done. The delay doubles each retry with ±25% jitter.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

func jitter(d time.Duration) time.Duration {
	j := int64(d / 4)
	if j <= 0 {
		return d
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := int64(binary.LittleEndian.Uint64(b[:])>>1) % (2*j + 1) //nolint:gosec // bounded by 2j+1
	return d - time.Duration(j) + time.Duration(n)
}
