package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills in whole intervals and consumes atomically.
//
// KEYS[1] bucket hash; ARGV: capacity, refill tokens, interval ms, now ms, ttl ms.
// Returns 1 when a token was taken.
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local n = math.floor((now - ts) / interval)
if n > 0 then
  tokens = math.min(capacity, tokens + n * refill)
  ts = ts + n * interval
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)
return allowed
`

var tokenBucketLua = redis.NewScript(tokenBucketScript)

// RedisLimiter stores buckets in Redis hashes under prefix:{class}:{client}.
// Idle buckets expire once they would be full again, which is the same as
// starting a fresh bucket.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter returns a RedisLimiter. An empty prefix defaults to "healplus:rl".
func NewRedisLimiter(rdb redis.UniversalClient, cfg Config, prefix string) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "healplus:rl"
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg, prefix: prefix, now: time.Now}, nil
}

// TryConsume implements Limiter. Redis failures are returned to the caller,
// which decides whether to fail open.
func (l *RedisLimiter) TryConsume(ctx context.Context, clientKey string, class Class) (bool, error) {
	b := l.cfg.For(class)
	ttl := b.FullAfter() + time.Second

	res, err := tokenBucketLua.Run(ctx, l.rdb, []string{l.key(clientKey, class)},
		b.Capacity,
		b.RefillTokens,
		b.Interval.Milliseconds(),
		l.now().UnixMilli(),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}

	allowed := res == 1
	observe(class, allowed)
	return allowed, nil
}

func (l *RedisLimiter) key(clientKey string, class Class) string {
	return l.prefix + ":" + string(class) + ":" + clientKey
}
