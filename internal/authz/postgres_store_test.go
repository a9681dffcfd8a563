//go:build integration

package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/swapgate/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Now().UTC().Truncate(time.Second)

	issued := &IssuedNonce{
		Nonce:     "0x0000000000000000000000000000000a",
		Actor:     "0x1000000000000000000000000000000000000001",
		ServiceID: "order-1",
		Gross:     "1000.000000",
		Net:       "995.000000",
		Deadline:  now.Add(-time.Minute),
		Status:    StatusIssued,
		IssuedAt:  now.Add(-6 * time.Minute),
	}
	require.NoError(t, store.Reserve(ctx, issued))
	assert.ErrorIs(t, store.Reserve(ctx, issued), ErrNonceCollision)

	got, err := store.Get(ctx, issued.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "995.000000", got.Net)
	assert.Equal(t, StatusIssued, got.Status)
	assert.True(t, got.Deadline.Equal(issued.Deadline))

	fresh := *issued
	fresh.Nonce = "0x0000000000000000000000000000000b"
	fresh.Deadline = now.Add(5 * time.Minute)
	require.NoError(t, store.Reserve(ctx, &fresh))

	expirable, err := store.ListExpirable(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expirable, 1)
	assert.Equal(t, issued.Nonce, expirable[0].Nonce)

	require.NoError(t, store.Finalize(ctx, issued.Nonce, StatusExpired))
	assert.ErrorIs(t, store.Finalize(ctx, issued.Nonce, StatusSpent), ErrNotIssued)
	assert.ErrorIs(t, store.Finalize(ctx, "0x0000000000000000000000000000dead", StatusSpent), ErrNonceNotFound)

	_, err = store.Get(ctx, "0x0000000000000000000000000000dead")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}
