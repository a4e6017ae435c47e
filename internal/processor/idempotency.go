package processor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
)

var ErrAlreadyProcessed = errors.New("donation already settled")

type IdempotencyConfig struct {
	// ProcessedTTL bounds how long a settled marker is remembered.
	ProcessedTTL time.Duration

	// MaxRestarts is how many timed out polling runs a donation gets
	// before the reconciler leaves it alone.
	MaxRestarts int

	RestartKeyPrefix   string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		ProcessedTTL:       24 * time.Hour,
		MaxRestarts:        3,
		RestartKeyPrefix:   "settlement:restarts:",
		ProcessedKeyPrefix: "settlement:done:",
	}
}

// IdempotencyService remembers which donations reached a terminal state and
// how many polling runs timed out, so redelivered requests are cheap no-ops.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	def := DefaultIdempotencyConfig()
	if config.ProcessedTTL <= 0 {
		config.ProcessedTTL = def.ProcessedTTL
	}
	if config.MaxRestarts <= 0 {
		config.MaxRestarts = def.MaxRestarts
	}
	if config.RestartKeyPrefix == "" {
		config.RestartKeyPrefix = def.RestartKeyPrefix
	}
	if config.ProcessedKeyPrefix == "" {
		config.ProcessedKeyPrefix = def.ProcessedKeyPrefix
	}
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, donationID string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+donationID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// MarkProcessed stores the terminal outcome and drops the restart counter.
func (s *IdempotencyService) MarkProcessed(ctx context.Context, donationID, outcome string) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+donationID, []byte(outcome), s.config.ProcessedTTL); err != nil {
		logger.Error("failed to mark donation settled", "donation_id", donationID, "error", err)
		return err
	}
	if err := s.redis.Del(ctx, s.config.RestartKeyPrefix+donationID); err != nil {
		logger.Warn("failed to clear restart counter", "donation_id", donationID, "error", err)
	}
	return nil
}

func (s *IdempotencyService) Outcome(ctx context.Context, donationID string) (string, error) {
	b, err := s.redis.Get(ctx, s.config.ProcessedKeyPrefix+donationID)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

// RecordTimeout counts one more polling run that ran out of attempts.
func (s *IdempotencyService) RecordTimeout(ctx context.Context, donationID string) (int, error) {
	n, err := s.Restarts(ctx, donationID)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.redis.Set(ctx, s.config.RestartKeyPrefix+donationID, []byte(strconv.Itoa(n)), s.config.ProcessedTTL); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *IdempotencyService) Restarts(ctx context.Context, donationID string) (int, error) {
	b, err := s.redis.Get(ctx, s.config.RestartKeyPrefix+donationID)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Exhausted reports whether the donation used up its polling runs.
func (s *IdempotencyService) Exhausted(ctx context.Context, donationID string) (bool, error) {
	n, err := s.Restarts(ctx, donationID)
	if err != nil {
		return false, err
	}
	return n >= s.config.MaxRestarts, nil
}
