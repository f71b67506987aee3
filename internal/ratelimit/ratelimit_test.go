package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerAcquireAndRelease(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "review:dup:1:abc", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "review:dup:1:abc", lease.Key)

	_, err = locker.Acquire(ctx, "review:dup:1:abc", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("review:dup:1:abc"))
	require.NoError(t, lease.Release(ctx))
}

func TestLeaseReleaseKeepsForeignClaim(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	mr.FastForward(time.Minute + time.Second)

	_, err = locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("k"), "expired lease must not drop the new holder's key")
}

func TestNilLocker(t *testing.T) {
	locker := NewLocker(nil)
	assert.False(t, locker.Enabled())

	_, err := locker.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)

	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}

func TestLockerRejectsBadInput(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client)

	_, err := locker.Acquire(context.Background(), "", time.Second)
	assert.Error(t, err)
	_, err = locker.Acquire(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestTokenBucketExhausts(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := bucket.Allow(ctx, "bucket", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, 10*time.Minute)
}

func TestTokenBucketRetryAfter(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	res, err := bucket.Allow(ctx, "fast", 2, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = bucket.Allow(ctx, "fast", 2, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 500*time.Millisecond)
}

func TestTokenBucketValidation(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)

	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	assert.Error(t, err)
}

func TestGenerationLimiter(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, GenerationRate: 0.001, GenerationBurst: 2}}

	limiter, err := NewGenerationLimiter(GenerationLimiterParams{Config: cfg, Client: client, Log: zap.NewNop()})
	require.NoError(t, err)
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "42", "generate")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "42", "generate")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.Allow(ctx, "43", "generate")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per account")
}

func TestGenerationLimiterDisabled(t *testing.T) {
	limiter, err := NewGenerationLimiter(GenerationLimiterParams{Config: config.Config{}, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), "42", "generate")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = NewGenerationLimiter(GenerationLimiterParams{
		Config: config.Config{RateLimit: config.RateLimitConfig{Enabled: true, GenerationRate: 1, GenerationBurst: 1}},
		Log:    zap.NewNop(),
	})
	assert.Error(t, err)
}
