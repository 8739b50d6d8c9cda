package utils

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimOnce_SecondOwnerRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	ok, err := ClaimOnce(ctx, rdb, "reconcile:CA1", "task-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ClaimOnce(ctx, rdb, "reconcile:CA1", "task-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ClaimOnce(ctx, rdb, "reconcile:CA1", "task-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "same owner may re-claim")
}

func TestClaimOnce_ExpiresAfterTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	ok, err := ClaimOnce(ctx, rdb, "k", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = ClaimOnce(ctx, rdb, "k", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseClaim_OnlyOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	_, err := ClaimOnce(ctx, rdb, "k", "a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, ReleaseClaim(ctx, rdb, "k", "b"))
	assert.True(t, mr.Exists("k"))

	require.NoError(t, ReleaseClaim(ctx, rdb, "k", "a"))
	assert.False(t, mr.Exists("k"))
}

func TestClaimOnce_ValidatesArgs(t *testing.T) {
	_, err := ClaimOnce(context.Background(), nil, "k", "a", time.Minute)
	assert.Error(t, err)
}
