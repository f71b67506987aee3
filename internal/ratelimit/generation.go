package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/reviewdesk/internal/config"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyGenerationAccount = "ratelimit:generation:account:%s"

// GenerationLimiter throttles AI generation calls per account. It sits in
// front of the ledger and never replaces it.
type GenerationLimiter struct {
	bucket     *TokenBucket
	rate       float64
	burst      int
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

type GenerationLimiterParams struct {
	fx.In

	Config     config.Config
	Client     *redis.Client `optional:"true"`
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// NewGenerationLimiter returns nil when rate limiting or redis is off.
func NewGenerationLimiter(p GenerationLimiterParams) (*GenerationLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if p.Client == nil {
		return nil, fmt.Errorf("rate limiting requires redis; set REDIS_ENABLED")
	}
	if cfg.GenerationRate <= 0 || cfg.GenerationBurst <= 0 {
		return nil, fmt.Errorf("generation rate limit must be positive")
	}
	return &GenerationLimiter{
		bucket:     NewTokenBucket(p.Client),
		rate:       cfg.GenerationRate,
		burst:      cfg.GenerationBurst,
		log:        p.Log.Named("ratelimit.generation"),
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (l *GenerationLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open on redis errors so an outage does not block generation.
func (l *GenerationLimiter) Allow(ctx context.Context, accountID, endpoint string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}

	key := fmt.Sprintf(keyGenerationAccount, strings.TrimSpace(accountID))
	result, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("generation limiter unavailable, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true}, nil
	}
	if !result.Allowed {
		l.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
	}
	return result, nil
}
