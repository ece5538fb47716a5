package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether one request of class may proceed for clientKey.
type Limiter interface {
	TryConsume(ctx context.Context, clientKey string, class Class) (bool, error)
}

// MemoryLimiter keeps one interval bucket per (client key, class) in a
// sync.Map. Buckets are created lazily and live for the life of the process.
type MemoryLimiter struct {
	cfg     Config
	buckets sync.Map // bucketKey -> *bucket
	now     func() time.Time
}

type bucketKey struct {
	client string
	class  Class
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns a MemoryLimiter for cfg.
func NewMemoryLimiter(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{cfg: cfg, now: time.Now}, nil
}

// TryConsume takes one token from the bucket if available. It never errors.
func (l *MemoryLimiter) TryConsume(_ context.Context, clientKey string, class Class) (bool, error) {
	now := l.now()
	budget := l.cfg.For(class)
	b := l.bucket(clientKey, class, budget, now)

	b.mu.Lock()
	b.tokens, b.lastRefill = budget.Refill(b.tokens, b.lastRefill, now)
	allowed := b.tokens > 0
	if allowed {
		b.tokens--
	}
	b.mu.Unlock()

	observe(class, allowed)
	return allowed, nil
}

func (l *MemoryLimiter) bucket(clientKey string, class Class, budget Bucket, now time.Time) *bucket {
	k := bucketKey{client: clientKey, class: class}
	if v, ok := l.buckets.Load(k); ok {
		return v.(*bucket)
	}
	v, _ := l.buckets.LoadOrStore(k, &bucket{tokens: budget.Capacity, lastRefill: now})
	return v.(*bucket)
}
