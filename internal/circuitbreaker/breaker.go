// Package circuitbreaker guards calls to external risk dependencies (the
// sanctions service) with closed → open → half-open state per endpoint.
//
// An open circuit is reported as ErrOpen so callers can apply their own
// unavailability policy instead of waiting out a dead dependency.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls rejected with ErrOpen
	StateHalfOpen              // one probe allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "swapgate",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type entry struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key and trips open at threshold.
// After openDuration the next call is let through as a half-open probe.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	threshold    int
	openDuration time.Duration
	now          func() time.Time
}

// New creates a breaker. Non-positive arguments fall back to 5 failures / 30s.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		entries:      make(map[string]*entry),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// Do runs fn unless the circuit for key is open. Context cancellation by the
// caller is not counted as a dependency failure; deadline expiry is.
func (b *Breaker) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(key)
	case errors.Is(err, context.Canceled):
		b.releaseProbe(key)
	default:
		b.RecordFailure(key)
	}
	return err
}

// Allow reports whether a call to key may proceed.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}
	switch e.state {
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

// RecordFailure counts a failure; a failed probe reopens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[key] = e
	}
	e.failures++
	e.lastFailure = b.now()

	switch {
	case e.state == StateHalfOpen:
		b.transition(e, key, StateOpen)
	case e.state == StateClosed && e.failures >= b.threshold:
		b.transition(e, key, StateOpen)
	}
}

// releaseProbe returns a half-open circuit to open without counting a failure,
// so an abandoned probe does not wedge the key.
func (b *Breaker) releaseProbe(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok && e.state == StateHalfOpen {
		b.transition(e, key, StateOpen)
	}
}

// State returns the state for key (closed for unknown keys).
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		return e.state
	}
	return StateClosed
}

// caller holds b.mu
func (b *Breaker) transition(e *entry, key string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	transitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
