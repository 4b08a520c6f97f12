package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"moxie_companion/internal/utils"
)

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// RateLimiter implements a sliding window limiter on Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *utils.Logger
}

// NewRateLimiter creates a limiter with no default limit. Use WithLimit to
// give Allow a limit.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		window: DefaultWindow,
		logger: utils.NewLogger("ratelimit"),
	}
}

// WithLimit returns a copy whose Allow enforces limit requests per window
func (rl *RateLimiter) WithLimit(limit int) *RateLimiter {
	c := *rl
	c.limit = limit
	return &c
}

// Allow applies the configured limit to key. Redis failures deny the request.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	allowed, _, _, err := rl.AllowWithDetails(ctx, key, rl.limit)
	if err != nil {
		rl.logger.Error("Rate limit check failed", "key", key, "error", err)
		return false
	}
	return allowed
}

// AllowWithDetails records one request for key and reports whether it is
// within limit, how many requests remain in the window and when the window
// frees up. A limit of 0 or less is unlimited and reports remaining -1.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	redisKey := rl.key(key)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.Pipeline()

	// Remove old entries outside the window
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count requests already in the window
	countCmd := pipe.ZCard(ctx, redisKey)

	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString()),
	})

	// Expire idle keys
	pipe.Expire(ctx, redisKey, 2*rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	current := int(countCmd.Val()) + 1
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	return current <= limit, remaining, now.Add(rl.window), nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	redisKey := rl.key(key)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset clears the window for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.key(key)).Err()
}

func (rl *RateLimiter) key(key string) string {
	return "ratelimit:" + key
}
