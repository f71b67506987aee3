package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// bucketScript refills a bucket at ARGV[1] milli-tokens per second up to
// ARGV[2] milli-tokens and takes 1000 when available. The stored balance is
// fractional; replies are floored since redis truncates Lua numbers anyway.
// Returns {allowed, remaining_milli, retry_after_ms}.
var bucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate / 1000)
end

local allowed = 0
local retry = 0
if tokens >= 1000 then
  allowed = 1
  tokens = tokens - 1000
else
  retry = math.ceil((1000 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens), retry}
`)

// TokenBucket is a redis-backed bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Allow takes one token from key, refilling at rate per second up to burst.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	switch {
	case t == nil || t.client == nil:
		return nil, errors.New("rate limiter not configured")
	case key == "":
		return nil, errors.New("rate limiter key is empty")
	case rate <= 0 || burst <= 0:
		return nil, errors.New("rate limiter rate and burst must be positive")
	}

	milliRate := int64(math.Max(1, math.Round(rate*1000)))
	ttl := bucketTTL(rate, burst)
	out, err := bucketScript.Run(ctx, t.client, []string{key}, milliRate, int64(burst)*1000, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, errors.New("unexpected rate limit script reply")
	}

	return &RateLimitResult{
		Allowed:    out[0] == 1,
		Limit:      burst,
		Remaining:  int(out[1] / 1000),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps an idle bucket around for two full refills.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}
