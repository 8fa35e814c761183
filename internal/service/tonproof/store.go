package tonproof

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PayloadStore keeps issued payloads until they are used once or expire.
type PayloadStore interface {
	Save(ctx context.Context, payload string, b Binding, ttl time.Duration) error
	Take(ctx context.Context, payload string) (Binding, bool, error)
}

const payloadKeyPrefix = "tonproof:payload:"

type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, payload string, b Binding, ttl time.Duration) error {
	v := strconv.FormatInt(b.UserID, 10) + "|" + b.Address
	return s.rdb.Set(ctx, payloadKeyPrefix+payload, v, ttl).Err()
}

// Take returns and deletes the binding in one round trip.
func (s *RedisStore) Take(ctx context.Context, payload string) (Binding, bool, error) {
	v, err := s.rdb.GetDel(ctx, payloadKeyPrefix+payload).Result()
	if errors.Is(err, redis.Nil) {
		return Binding{}, false, nil
	}
	if err != nil {
		return Binding{}, false, err
	}
	user, addr, found := strings.Cut(v, "|")
	if !found {
		return Binding{}, false, fmt.Errorf("malformed payload binding %q", v)
	}
	id, err := strconv.ParseInt(user, 10, 64)
	if err != nil {
		return Binding{}, false, fmt.Errorf("malformed payload binding %q: %w", v, err)
	}
	return Binding{UserID: id, Address: addr}, true, nil
}
