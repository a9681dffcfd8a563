package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RecordAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := &Assessment{ID: "risk_1", Actor: "0xABC", Score: 70, Tier: TierMedium, Flags: []Flag{FlagVPNDetected}, Approved: true}
	require.NoError(t, store.Record(ctx, a))

	// Mutating the original must not affect the stored copy
	a.Flags[0] = FlagLargeAmount

	got, err := store.Get(ctx, "risk_1")
	require.NoError(t, err)
	assert.Equal(t, []Flag{FlagVPNDetected}, got.Flags)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByActor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, &Assessment{
			ID:          fmt.Sprintf("risk_%d", i),
			Actor:       "0xabc",
			EvaluatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := store.ListByActor(ctx, "0xABC", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "risk_4", list[0].ID)
	assert.Equal(t, "risk_2", list[2].ID)

	list, err = store.ListByActor(ctx, "0xother", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
