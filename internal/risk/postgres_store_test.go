//go:build integration

package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rejected := &Assessment{
		ID: "risk_pg_1", Actor: "0xABCDEF0000000000000000000000000000000001", ServiceID: "order-1",
		Score: 35, Tier: TierHigh, Flags: []Flag{FlagKYCMissing, FlagVPNDetected},
		EvaluatedAt: base,
	}
	approved := &Assessment{
		ID: "risk_pg_2", Actor: rejected.Actor, ServiceID: "order-2",
		Score: 85, Tier: TierLow, Flags: []Flag{}, Approved: true,
		EvaluatedAt: base.Add(time.Minute),
	}
	require.NoError(t, store.Record(ctx, rejected))
	require.NoError(t, store.Record(ctx, approved))
	assert.Error(t, store.Record(ctx, approved), "ids are unique")

	got, err := store.Get(ctx, "risk_pg_1")
	require.NoError(t, err)
	assert.Equal(t, []Flag{FlagKYCMissing, FlagVPNDetected}, got.Flags)
	assert.Equal(t, TierHigh, got.Tier)
	assert.False(t, got.Approved)

	list, err := store.ListByActor(ctx, rejected.Actor, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "risk_pg_2", list[0].ID)

	_, err = store.Get(ctx, "risk_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
