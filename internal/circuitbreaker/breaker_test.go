package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, open time.Duration) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New(threshold, open)
	b.now = c.now
	return b, c
}

var errDown = errors.New("sanctions endpoint down")

func fail(context.Context) error    { return errDown }
func succeed(context.Context) error { return nil }

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do(ctx, "svc", fail), errDown)
	}
	assert.Equal(t, StateClosed, b.State("svc"))

	assert.ErrorIs(t, b.Do(ctx, "svc", fail), errDown)
	assert.Equal(t, StateOpen, b.State("svc"))

	called := false
	err := b.Do(ctx, "svc", func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open circuit must not call through")
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, "svc", fail)
	assert.Equal(t, StateOpen, b.State("svc"))

	c.advance(time.Minute)
	assert.True(t, b.Allow("svc"))
	assert.Equal(t, StateHalfOpen, b.State("svc"))
	assert.False(t, b.Allow("svc"), "only one probe while half-open")

	b.RecordSuccess("svc")
	assert.Equal(t, StateClosed, b.State("svc"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, c := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, "svc", fail)
	c.advance(time.Minute)
	assert.ErrorIs(t, b.Do(ctx, "svc", fail), errDown)
	assert.Equal(t, StateOpen, b.State("svc"))
}

func TestBreaker_CancelledProbeDoesNotWedge(t *testing.T) {
	b, c := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	_ = b.Do(ctx, "svc", fail)
	c.advance(time.Minute)
	_ = b.Do(ctx, "svc", func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateOpen, b.State("svc"))

	c.advance(time.Minute)
	assert.NoError(t, b.Do(ctx, "svc", succeed))
	assert.Equal(t, StateClosed, b.State("svc"))
}

func TestBreaker_KeysIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	_ = b.Do(context.Background(), "a", fail)
	assert.Equal(t, StateOpen, b.State("a"))
	assert.True(t, b.Allow("b"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
