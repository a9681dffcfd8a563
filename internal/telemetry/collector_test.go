package telemetry

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const actor = "0xAAAA000000000000000000000000000000000001"

func TestCollect_ReadsChainAndKYC(t *testing.T) {
	chain := NewStaticChain()
	chain.Set(actor, StaticAccount{Balance: big.NewInt(5e17), Nonce: 42})
	kyc := NewMemoryKYC()
	kyc.SetTier(actor, 2)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewCollector(chain, kyc, WithClock(func() time.Time { return fixed }))

	sess := Session{UserAgentHash: "ua", Timezone: "UTC", ScreenSignature: "1920x1080"}
	rec := c.Collect(context.Background(), actor, sess, NetworkFlags{VPN: true, Known: true})

	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", rec.Actor)
	assert.Equal(t, int64(42), rec.Activity)
	assert.Equal(t, 0, rec.Balance.Cmp(big.NewInt(5e17)))
	assert.Equal(t, 2, rec.KYCTier)
	assert.False(t, rec.IsContract)
	assert.False(t, rec.Degraded)
	assert.True(t, rec.Network.VPN)
	assert.Equal(t, sess, rec.Session)
	assert.Equal(t, fixed, rec.CollectedAt)
}

func TestCollect_ContractClassification(t *testing.T) {
	chain := NewStaticChain()
	chain.Set(actor, StaticAccount{Balance: big.NewInt(1), Nonce: 1, Code: []byte{0x60, 0x80}})

	rec := NewCollector(chain, nil).Collect(context.Background(), actor, Session{}, NetworkFlags{})
	assert.True(t, rec.IsContract)
	assert.Equal(t, 0, rec.KYCTier)
}

func TestCollect_ChainFailureDegrades(t *testing.T) {
	chain := NewStaticChain()
	chain.Set(actor, StaticAccount{Balance: big.NewInt(5e17), Nonce: 42})
	chain.FailWith(errors.New("rpc down"))

	rec := NewCollector(chain, nil).Collect(context.Background(), actor, Session{}, NetworkFlags{})
	require.NotNil(t, rec)
	assert.True(t, rec.Degraded)
	assert.Equal(t, 0, rec.Balance.Sign())
	assert.Equal(t, ActivityUnknown, rec.Activity)
}

func TestCollect_NilChainDegrades(t *testing.T) {
	rec := NewCollector(nil, nil).Collect(context.Background(), actor, Session{}, NetworkFlags{})
	assert.True(t, rec.Degraded)
	assert.Equal(t, ActivityUnknown, rec.Activity)
}

type slowChain struct{ *StaticChain }

func (s *slowChain) BalanceAt(ctx context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCollect_TimeoutDegrades(t *testing.T) {
	chain := &slowChain{StaticChain: NewStaticChain()}
	c := NewCollector(chain, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	rec := c.Collect(context.Background(), actor, Session{}, NetworkFlags{})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, rec.Degraded)
}

type failingKYC struct{}

func (failingKYC) Tier(context.Context, string) (int, error) { return 3, errors.New("db down") }

func TestCollect_KYCFailureIsTierZero(t *testing.T) {
	rec := NewCollector(NewStaticChain(), failingKYC{}).Collect(context.Background(), actor, Session{}, NetworkFlags{})
	assert.Equal(t, 0, rec.KYCTier)
}

func TestWrap_IsUnavailable(t *testing.T) {
	err := wrap(errors.New("boom"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "boom")
}
