package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
)

const rateLimitKeyPrefix = "ratelimit:user:"

// redisRateLimitStore keeps per-user limiter state in redis as one
// JSON blob per user. Amounts serialize as zatoshi strings, so the
// counters round-trip exactly. Get followed by Set is not atomic; the
// Store interface's check-then-act caveat applies here too.
type redisRateLimitStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRateLimitStore returns a redis-backed ratelimit.Store
func NewRedisRateLimitStore(client *redis.Client, logger *zap.Logger) ratelimit.Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisRateLimitStore{client: client, logger: logger}
}

func (s *redisRateLimitStore) GetUserLimits(ctx context.Context, userID string) (*ratelimit.UserState, error) {
	data, err := s.client.Get(ctx, rateLimitKeyPrefix+userID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rate limit state: %w", err)
	}

	var state ratelimit.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding rate limit state: %w", err)
	}
	return &state, nil
}

func (s *redisRateLimitStore) SetUserLimits(ctx context.Context, userID string, state *ratelimit.UserState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding rate limit state: %w", err)
	}
	if err := s.client.Set(ctx, rateLimitKeyPrefix+userID, data, 0).Err(); err != nil {
		return fmt.Errorf("writing rate limit state: %w", err)
	}
	return nil
}

func (s *redisRateLimitStore) Reset(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, rateLimitKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("resetting rate limit state: %w", err)
	}
	return nil
}

func (s *redisRateLimitStore) ResetAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, rateLimitKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("resetting rate limit state: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning rate limit keys: %w", err)
	}
	return nil
}
