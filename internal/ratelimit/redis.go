package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisLimiter shares fixed windows across instances. Each window is one
// counter key that expires with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

// NewRedisLimiterFromURL parses a redis:// URL and checks connectivity.
func NewRedisLimiterFromURL(ctx context.Context, url, prefix string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisLimiter(client, prefix), nil
}

// Allow fails open: when Redis is unreachable the action is allowed and the
// error is logged.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	k := l.prefix + key

	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		return Result{Allowed: true, Remaining: limit}
	}
	if n == 1 {
		if err := l.client.PExpire(ctx, k, window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit expiry failed")
		}
	}

	if int(n) <= limit {
		return Result{Allowed: true, Remaining: limit - int(n)}
	}

	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil {
		return Result{RetryAfter: window}
	}
	if ttl < 0 {
		// Counter without an expiry.
		l.client.PExpire(ctx, k, window)
		ttl = window
	}
	return Result{RetryAfter: ttl}
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
