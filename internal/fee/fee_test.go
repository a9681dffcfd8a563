package fee

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/mbd888/swapgate/internal/usdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_ThousandAtFiftyBps(t *testing.T) {
	b, err := Compute(usdc.MustParse("1000"), 50)
	require.NoError(t, err)

	assert.Equal(t, "5.000000", usdc.Format(b.Fee))
	assert.Equal(t, "995.000000", usdc.Format(b.Net))
	assert.Equal(t, 50, b.RateBps)
}

func TestCompute_FloorsTowardUser(t *testing.T) {
	tests := []struct {
		gross string
		rate  int
		fee   int64
	}{
		{"0.000199", 50, 0},  // 199*50/10000 = 0.995 -> 0
		{"0.000200", 50, 1},  // exactly 1
		{"0.000399", 50, 1},  // 1.995 -> 1
		{"1", 0, 0},          // zero rate
		{"1", 500, 50_000},   // 5% of 1 USDC
		{"0.000001", 500, 0}, // dust
	}
	for _, tt := range tests {
		b, err := Compute(usdc.MustParse(tt.gross), tt.rate)
		require.NoError(t, err)
		assert.Equal(t, tt.fee, b.Fee.Int64(), "gross %s rate %d", tt.gross, tt.rate)
	}
}

func TestCompute_Invariants(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		gross := big.NewInt(r.Int63n(1_000_000_000_000))
		rate := r.Intn(MaxRateBps + 1)

		b, err := Compute(gross, rate)
		require.NoError(t, err)

		sum := new(big.Int).Add(b.Fee, b.Net)
		require.Zero(t, sum.Cmp(gross), "fee + net != gross")

		want := new(big.Int).Mul(gross, big.NewInt(int64(rate)))
		want.Div(want, big.NewInt(BpsDenominator))
		require.Zero(t, want.Cmp(b.Fee), "fee != floor(gross*rate/10000)")
		require.True(t, Check(gross, b.Fee, b.Net, rate))
	}
}

func TestCompute_Rejects(t *testing.T) {
	_, err := Compute(big.NewInt(-1), 50)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Compute(nil, 50)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = Compute(big.NewInt(100), MaxRateBps+1)
	assert.ErrorIs(t, err, ErrRateOutOfRange)

	_, err = Compute(big.NewInt(100), -1)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}

func TestCheck_DetectsTampering(t *testing.T) {
	gross := usdc.MustParse("1000")
	assert.True(t, Check(gross, usdc.MustParse("5"), usdc.MustParse("995"), 50))
	assert.False(t, Check(gross, usdc.MustParse("4"), usdc.MustParse("996"), 50))
	assert.False(t, Check(gross, usdc.MustParse("5"), usdc.MustParse("996"), 50))
	assert.False(t, Check(gross, nil, nil, 50))
}

func TestView(t *testing.T) {
	b, err := Compute(usdc.MustParse("1000"), 50)
	require.NoError(t, err)
	v := b.View()
	assert.Equal(t, View{
		Gross:         "1000.000000",
		Fee:           "5.000000",
		Net:           "995.000000",
		RateBps:       50,
		FeePercentage: "0.5",
	}, v)
}

func TestPreviewFloat(t *testing.T) {
	p := PreviewFloat(1000, 50)
	assert.InDelta(t, 5.0, p.FeeAmount, 1e-9)
	assert.InDelta(t, 995.0, p.NetAmount, 1e-9)
	assert.InDelta(t, 0.5, p.FeePercentage, 1e-9)
	assert.InDelta(t, 1000.0, p.TotalAmount, 1e-9)
}

func TestSchedule(t *testing.T) {
	s, err := NewSchedule(DefaultRateBps)
	require.NoError(t, err)
	assert.Equal(t, 50, s.Rate())

	require.NoError(t, s.SetRate(100))
	assert.Equal(t, 100, s.Rate())

	assert.ErrorIs(t, s.SetRate(501), ErrRateOutOfRange)
	assert.Equal(t, 100, s.Rate(), "refused update must not change the rate")

	b, err := s.Compute(usdc.MustParse("1000"))
	require.NoError(t, err)
	assert.Equal(t, "10.000000", usdc.Format(b.Fee))

	_, err = NewSchedule(600)
	assert.ErrorIs(t, err, ErrRateOutOfRange)
}
