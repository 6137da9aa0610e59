package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*BlacklistStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBlacklistStore(client), mr
}

func TestBlacklistRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BlacklistJTI(ctx, "jti-1", time.Now().Add(time.Hour)))

	listed, err := store.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = store.IsBlacklisted(ctx, "jti-unknown")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestBlacklistEntryExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BlacklistJTI(ctx, "jti-1", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	listed, err := store.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, listed, "entry must expire with its token")
}

func TestBlacklistAlreadyExpiredToken(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BlacklistJTI(ctx, "jti-1", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("authmux:blacklist:jti-1"),
		"an already expired token needs no denylist entry")
}
