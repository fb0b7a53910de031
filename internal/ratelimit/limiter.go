// Package ratelimit implements a Redis fixed-window request limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"application-tracker/internal/common/logger"
)

const keyPrefix = "ratelimit:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger logger.Logger
}

func NewLimiter(client *redis.Client, limit int, window time.Duration, log logger.Logger) *Limiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		logger: log.WithFields(map[string]interface{}{"component": "ratelimit"}),
	}
}

// Allow counts one request against key for the current window. The window
// starts with the first request and the counter expires with it.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := keyPrefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	d := Decision{Limit: l.limit, Allowed: count <= int64(l.limit)}
	if d.Allowed {
		d.Remaining = l.limit - int(count)
		return d, nil
	}

	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		// a counter without expiry would block the key forever
		if ttl == -1 {
			_ = l.client.Expire(ctx, k, l.window).Err()
		}
		ttl = l.window
	}
	d.RetryAfter = ttl
	l.logger.Debug("request limited", map[string]interface{}{"key": key, "count": count})
	return d, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}
