package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
)

var ErrNotAcquired = errors.New("lock is held by another owner")

const keyPrefix = "lock:"

// RedisLocker hands out SETNX leases. Each lease carries a random owner
// token and is released with a compare-and-delete, so an expired lease
// never frees a lock that was taken over by someone else.
type RedisLocker struct {
	redis redis.RedisAdapter
}

func NewRedisLocker(r redis.RedisAdapter) *RedisLocker {
	return &RedisLocker{redis: r}
}

type Lease struct {
	Key    string
	token  []byte
	locker *RedisLocker
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := []byte(uuid.NewString())
	ok, err := l.redis.SetNX(ctx, keyPrefix+key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	logger.Debug("lock acquired", "key", key, "ttl", ttl)
	return &Lease{Key: key, token: token, locker: l}, nil
}

// Release frees the lease. Releasing twice, or after expiry, is harmless.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	released, err := l.locker.redis.DelIfEquals(ctx, keyPrefix+l.Key, l.token)
	if err != nil {
		logger.Warn("failed to release lock", "key", l.Key, "error", err)
		return err
	}
	if !released {
		logger.Debug("lock already expired or taken over", "key", l.Key)
	}
	return nil
}

func (l *RedisLocker) Held(ctx context.Context, key string) (bool, error) {
	n, err := l.redis.Exist(ctx, keyPrefix+key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
