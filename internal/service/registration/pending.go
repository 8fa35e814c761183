package registration

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingReferrals remembers invite codes of users who have not registered yet.
type PendingReferrals interface {
	SetPending(ctx context.Context, userID int64, code string) error
	TakePending(ctx context.Context, userID int64) (string, bool, error)
}

type RedisPending struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisPending(rdb redis.Cmdable, ttl time.Duration) *RedisPending {
	return &RedisPending{rdb: rdb, ttl: ttl}
}

func (p *RedisPending) key(userID int64) string {
	return "referral:pending:" + strconv.FormatInt(userID, 10)
}

func (p *RedisPending) SetPending(ctx context.Context, userID int64, code string) error {
	return p.rdb.Set(ctx, p.key(userID), code, p.ttl).Err()
}

func (p *RedisPending) TakePending(ctx context.Context, userID int64) (string, bool, error) {
	v, err := p.rdb.GetDel(ctx, p.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
