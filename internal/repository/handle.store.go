package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
)

var ErrHandleNotFound = errors.New("payment handle not found")

const handleKeyPrefix = "payment:handle:"

// HandleStore maps provider order handles to the donation they were created
// for. Capture looks the donation up here instead of trusting the handle.
type HandleStore struct {
	redis redis.RedisAdapter
	ttl   time.Duration
}

func NewHandleStore(r redis.RedisAdapter, ttl time.Duration) *HandleStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &HandleStore{redis: r, ttl: ttl}
}

func (s *HandleStore) Bind(ctx context.Context, handle, donationID string) error {
	if handle == "" || donationID == "" {
		return errors.New("handle and donation id are required")
	}
	return s.redis.Set(ctx, handleKeyPrefix+handle, []byte(donationID), s.ttl)
}

func (s *HandleStore) Resolve(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", ErrHandleNotFound
	}
	v, err := s.redis.Get(ctx, handleKeyPrefix+handle)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return "", ErrHandleNotFound
		}
		return "", err
	}
	return string(v), nil
}

func (s *HandleStore) Forget(ctx context.Context, handle string) error {
	return s.redis.Del(ctx, handleKeyPrefix+handle)
}
