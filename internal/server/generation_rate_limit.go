package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/reviewdesk/internal/observability/logger"
	"go.uber.org/zap"
)

// GenerationRateLimit throttles the endpoints that call the AI provider. It
// runs after AccountRequired and never substitutes for the credit check.
func (s *Server) GenerationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.generationLimiter.Enabled() {
			c.Next()
			return
		}

		accountID := accountIDFrom(c)
		if accountID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		endpoint := normalizeRateLimitEndpoint(c)
		ctx := c.Request.Context()

		result, err := s.generationLimiter.Allow(ctx, accountID.String(), endpoint)
		if err != nil {
			logger.FromContext(ctx).Warn("generation rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyGenerationRateLimit(ctx, c, endpoint, ceilSeconds(result.RetryAfter))
			return
		}
		c.Next()
	}
}

func denyGenerationRateLimit(ctx context.Context, c *gin.Context, endpoint string, retryAfter int) {
	logger.FromContext(ctx).Warn("generation rate limit exceeded",
		zap.String("endpoint", endpoint),
		zap.Int("retry_after_seconds", retryAfter),
	)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	AbortWithError(c, ErrRateLimited)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
