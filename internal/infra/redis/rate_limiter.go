package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter enforces a process-wide request budget per ad platform API using
// a fixed INCR/EXPIRE window.
type RateLimiter struct {
	client RedisClient
	limit  int
	window time.Duration
}

func NewRateLimiter(client RedisClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow returns false once the platform's budget for the current window is
// spent. A zero limit or nil client disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, platform string) (bool, error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return true, nil
	}
	key := PlatformKey(platform)
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window); err != nil {
			return false, err
		}
	}
	return count <= int64(r.limit), nil
}

// Reset clears a platform's current window, reopening its budget immediately.
func (r *RateLimiter) Reset(ctx context.Context, platform string) error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Del(ctx, PlatformKey(platform))
}

func PlatformKey(platform string) string {
	return fmt.Sprintf("rate_limit:platform:%s", platform)
}
