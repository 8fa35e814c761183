//go:build integration

package redis

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceCacheLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	c := NewBalanceCache(client, time.Minute)
	require.NoError(t, c.Clear(ctx))

	_, ok, err := c.Get(ctx, "0:aa")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "0:aa", big.NewInt(1500)))
	require.NoError(t, c.Set(ctx, "0:bb", big.NewInt(7)))

	v, ok, err := c.Get(ctx, "0:aa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1500), v.Int64())

	require.NoError(t, c.Invalidate(ctx, "0:aa"))
	_, ok, _ = c.Get(ctx, "0:aa")
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	_, ok, _ = c.Get(ctx, "0:bb")
	assert.False(t, ok)
}
