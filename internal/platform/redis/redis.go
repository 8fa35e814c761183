// Package redis holds the Redis connection and the distributed lock built on it.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client embeds the go-redis client so it satisfies redis.Cmdable everywhere.
type Client struct {
	*redis.Client
}

// Open connects and pings. Stream reads block for seconds, so the read timeout
// is left to the per-call context.
func Open(ctx context.Context, addr, password string, db int) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty redis addr")
	}
	c := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		DialTimeout:           5 * time.Second,
		ReadTimeout:           -1,
		ContextTimeoutEnabled: true,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Client{Client: c}, nil
}

// Check is the readiness probe.
func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
