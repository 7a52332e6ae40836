package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowLimiter counts hits per key in a fixed window shared
// across all gateway instances.
type redisWindowLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisWindowLimiter(client *redis.Client, prefix string) Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &redisWindowLimiter{client: client, prefix: prefix}
}

func (l *redisWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := time.Now()
	window := now.UnixMilli() / policy.Window.Milliseconds()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, policy.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	resetAt := time.UnixMilli((window + 1) * policy.Window.Milliseconds())
	if count > int64(policy.Limit) {
		retryAfter := time.Until(resetAt)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - int(count), ResetAt: resetAt}, nil
}
