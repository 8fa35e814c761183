package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

const balanceKeySet = "balance:keys"

// BalanceCache keeps recent ledger balances in Redis. Entries are dropped on
// ledger activity for the address and all at once after every draw.
type BalanceCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewBalanceCache(client redis.Cmdable, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func (c *BalanceCache) key(address string) string { return fmt.Sprintf("balance:%s", address) }

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, address string) (*big.Int, bool, error) {
	v, err := c.client.Get(ctx, c.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, false, fmt.Errorf("corrupt cached balance for %s", address)
	}
	return n, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, address string, balance *big.Int) error {
	key := c.key(address)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, balance.String(), c.ttl)
	pipe.SAdd(ctx, balanceKeySet, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate drops the entry of one address.
func (c *BalanceCache) Invalidate(ctx context.Context, address string) error {
	key := c.key(address)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, balanceKeySet, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear drops every cached balance.
func (c *BalanceCache) Clear(ctx context.Context) error {
	keys, err := c.client.SMembers(ctx, balanceKeySet).Result()
	if err != nil {
		return err
	}
	keys = append(keys, balanceKeySet)
	return c.client.Del(ctx, keys...).Err()
}
