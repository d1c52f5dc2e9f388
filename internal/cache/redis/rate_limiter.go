package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maxx-ecosystem/maxxbot/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a fixed window: INCR the
// key, set the window TTL on first hit, reject once the count passes the
// limit.
type RateLimiter struct {
	rdb *redis.Client
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying()}
}

// Allow reports whether key may proceed under limit requests per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rk := "maxxbot:rl:" + key

	pipe := rl.rdb.Pipeline()
	incr := pipe.Incr(ctx, rk)
	pipe.ExpireNX(ctx, rk, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}
