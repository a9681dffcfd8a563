package quote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/usdc"
)

func TestTokensFor(t *testing.T) {
	tokens, err := TokensFor(usdc.MustParse("995"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "1990.000000000000000000", Format(tokens))

	// 1 / 3 truncates, never rounds up
	tokens, err = TokensFor(usdc.MustParse("1"), decimal.RequireFromString("3"))
	require.NoError(t, err)
	assert.Equal(t, "0.333333333333333333", Format(tokens))

	_, err = TokensFor(usdc.One, decimal.Zero)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestStatic(t *testing.T) {
	p, err := Static(decimal.RequireFromString("1.25")).Price(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("1.25")))

	_, err = Static(decimal.Zero).Price(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestOracle_CachesAndFallsBack(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"price":"0.42"}`)
	}))
	defer srv.Close()

	o := NewOracle(srv.URL, decimal.RequireFromString("0.5"), time.Hour)

	p, err := o.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.42", p.String())

	_, _ = o.Price(context.Background())
	assert.Equal(t, int32(1), calls.Load(), "second call served from cache")

	// Stale cache plus failing endpoint serves the last known price
	o.mu.Lock()
	o.lastUpdate = time.Time{}
	o.mu.Unlock()
	fail.Store(true)
	p, err = o.Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.42", p.String())
}

func TestOracle_NoPriceAtAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOracle(srv.URL, decimal.Zero, time.Minute).Price(context.Background())
	assert.ErrorIs(t, err, ErrNoPrice)
}
