package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory() (*MemoryLimiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	return l, c
}

func newRedis(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client, "rl:"), mr
}

func TestMemoryLimiter_Allow(t *testing.T) {
	limiter, _ := newMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := limiter.Allow(ctx, "test-key", 3, time.Hour)
		assert.True(t, r.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, r.Remaining)
	}

	r := limiter.Allow(ctx, "test-key", 3, time.Hour)
	assert.False(t, r.Allowed, "fourth request should be denied")
	assert.Equal(t, time.Hour, r.RetryAfter)

	assert.True(t, limiter.Allow(ctx, "other-key", 3, time.Hour).Allowed, "different key should be allowed")
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	limiter, c := newMemory()
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, "k", 1, time.Minute).Allowed)
	c.advance(20 * time.Second)

	r := limiter.Allow(ctx, "k", 1, time.Minute)
	require.False(t, r.Allowed)
	assert.Equal(t, 40*time.Second, r.RetryAfter)

	c.advance(40 * time.Second)
	assert.True(t, limiter.Allow(ctx, "k", 1, time.Minute).Allowed, "allowed again once the window resets")
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	limiter, c := newMemory()
	ctx := context.Background()

	limiter.Allow(ctx, "short", 1, time.Second)
	limiter.Allow(ctx, "long", 1, time.Hour)
	c.advance(2 * time.Second)

	limiter.Cleanup()
	assert.Equal(t, 1, limiter.size())
	assert.False(t, limiter.Allow(ctx, "long", 1, time.Hour).Allowed, "long window still active")
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	limit := 100

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < limit*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(ctx, "concurrent-key", limit, time.Hour).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestRedisLimiter_Allow(t *testing.T) {
	limiter, mr := newRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		r := limiter.Allow(ctx, "ip:1.2.3.4", 2, time.Minute)
		require.True(t, r.Allowed)
		assert.Equal(t, 1-i, r.Remaining)
	}

	r := limiter.Allow(ctx, "ip:1.2.3.4", 2, time.Minute)
	assert.False(t, r.Allowed)
	assert.Equal(t, time.Minute, r.RetryAfter)
	assert.True(t, mr.Exists("rl:ip:1.2.3.4"))

	mr.FastForward(30 * time.Second)
	r = limiter.Allow(ctx, "ip:1.2.3.4", 2, time.Minute)
	assert.False(t, r.Allowed)
	assert.Equal(t, 30*time.Second, r.RetryAfter)

	mr.FastForward(31 * time.Second)
	assert.True(t, limiter.Allow(ctx, "ip:1.2.3.4", 2, time.Minute).Allowed)
}

func TestRedisLimiter_RestoresMissingExpiry(t *testing.T) {
	limiter, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("rl:stuck", "5"))
	r := limiter.Allow(ctx, "stuck", 1, time.Minute)
	assert.False(t, r.Allowed)
	assert.Equal(t, time.Minute, r.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("rl:stuck"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	limiter, mr := newRedis(t)
	mr.Close()

	r := limiter.Allow(context.Background(), "k", 1, time.Minute)
	assert.True(t, r.Allowed)
	r = limiter.Allow(context.Background(), "k", 1, time.Minute)
	assert.True(t, r.Allowed)
}
