package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter counts actions per key in fixed windows.
type Limiter interface {
	// Allow records one action for key and reports whether it fits within
	// limit actions per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) Result
}

// Result describes the state of a key's window after Allow.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // until the window resets; zero when allowed
}

// MemoryLimiter is an in-memory rate limiter for single-instance
// deployments.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	count     int
	resetTime time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetTime) {
		b = &bucket{resetTime: now.Add(window)}
		l.buckets[key] = b
	}

	if b.count >= limit {
		return Result{RetryAfter: b.resetTime.Sub(now)}
	}
	b.count++
	return Result{Allowed: true, Remaining: limit - b.count}
}

// Cleanup removes expired buckets.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if !now.Before(b.resetTime) {
			delete(l.buckets, key)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *MemoryLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

var _ Limiter = (*MemoryLimiter)(nil)
