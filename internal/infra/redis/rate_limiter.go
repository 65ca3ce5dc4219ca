package redis

import (
	"context"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain/ports/repository"
)

var _ repository.RateLimiter = (*RateLimiter)(nil)

// RateLimiter counts hits per key in a fixed window. The scheduler calls it
// with limit 1, which turns the counter into a once-per-window claim.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	n, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 {
		// a counter without TTL would refuse the key forever
		if err := r.client.Expire(ctx, key, window); err != nil {
			_ = r.client.Del(ctx, key)
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n <= int64(limit), nil
}

// Release drops the window so the next Allow starts a fresh count.
func (r *RateLimiter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}
