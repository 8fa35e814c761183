package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is already held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out SET NX locks whose release only deletes the caller's own token.
type Locker struct {
	rdb    redis.Cmdable
	prefix string
}

func NewLocker(rdb redis.Cmdable, prefix string) *Locker {
	return &Locker{rdb: rdb, prefix: prefix}
}

// Acquire takes key for at most ttl. The returned func releases it and is safe to call once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// The caller's context may already be cancelled when releasing.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.rdb, []string{full}, token).Err()
	}, nil
}
