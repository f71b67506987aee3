package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	"github.com/smallbiznis/reviewdesk/internal/clock"
	"github.com/smallbiznis/reviewdesk/internal/config"
	obsmetrics "github.com/smallbiznis/reviewdesk/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Backends   aidomain.Backends
	Log        *zap.Logger
	Credits    *config.CreditsConfigHolder
	Clock      clock.Clock         `optional:"true"`
	Sleeper    Sleeper             `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Client struct {
	backends   aidomain.Backends
	log        *zap.Logger
	credits    *config.CreditsConfigHolder
	sleeper    Sleeper
	health     *HealthTracker
	obsMetrics *obsmetrics.Metrics
}

func NewClient(p Params) aidomain.Client {
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}
	return &Client{
		backends:   p.Backends,
		log:        p.Log.Named("aiprovider.client"),
		credits:    p.Credits,
		sleeper:    sleeper,
		health:     NewHealthTracker(p.Clock),
		obsMetrics: p.ObsMetrics,
	}
}

func (c *Client) Enabled() bool {
	return len(c.backends) > 0
}

func (c *Client) Generate(ctx context.Context, req aidomain.GenerateRequest) (aidomain.Generated, error) {
	if strings.TrimSpace(req.ReviewText) == "" {
		return aidomain.Generated{}, aidomain.ErrEmptyReview
	}

	policy := c.credits.Get().Provider
	prompt := BuildReplyPrompt(req, policy.MaxLength, policy.MaxSamples)

	result, err := c.complete(ctx, prompt)
	if err != nil {
		return aidomain.Generated{}, err
	}

	text, truncated := Truncate(Clean(result.completion.Text), policy.MaxLength)
	if text == "" {
		return aidomain.Generated{}, &aidomain.PermanentError{Provider: result.provider, Err: aidomain.ErrEmptyCompletion}
	}
	if truncated {
		c.log.Debug("reply truncated", zap.String("provider", result.provider), zap.Int("limit", policy.MaxLength))
	}

	return aidomain.Generated{
		Text:      text,
		Model:     result.completion.Model,
		Provider:  result.provider,
		Attempts:  result.attempts,
		Truncated: truncated,
	}, nil
}

var sentimentLabels = map[string]bool{
	"positive": true,
	"neutral":  true,
	"negative": true,
}

func (c *Client) Classify(ctx context.Context, text string) (aidomain.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return aidomain.Classification{}, aidomain.ErrEmptyReview
	}

	result, err := c.complete(ctx, BuildClassifyPrompt(text))
	if err != nil {
		return aidomain.Classification{}, err
	}

	var parsed struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(result.completion.Text)), &parsed); err != nil {
		return aidomain.Classification{}, &aidomain.PermanentError{Provider: result.provider, Err: errors.Join(aidomain.ErrMalformedCompletion, err)}
	}
	label := strings.ToLower(strings.TrimSpace(parsed.Sentiment))
	if !sentimentLabels[label] {
		return aidomain.Classification{}, &aidomain.PermanentError{Provider: result.provider, Err: aidomain.ErrUnsupportedSentiment}
	}

	return aidomain.Classification{
		Sentiment:  label,
		Confidence: parsed.Confidence,
		Model:      result.completion.Model,
		Provider:   result.provider,
	}, nil
}

type completionResult struct {
	completion aidomain.Completion
	provider   string
	attempts   int
}

// complete walks the backends in priority order. Transient failures exhaust
// the retry budget on one backend before moving to the next; a permanent
// failure stops immediately. MaxAttempts is a per-backend budget, so a call
// makes at most MaxAttempts times the number of backends attempts.
func (c *Client) complete(ctx context.Context, prompt aidomain.Prompt) (completionResult, error) {
	if len(c.backends) == 0 {
		return completionResult{}, &aidomain.PermanentError{Provider: "none", Err: aidomain.ErrNoBackends}
	}

	cfg := c.credits.Get().Provider
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	policy := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  2,
		Retryable:   aidomain.IsTransient,
		Sleeper:     c.sleeper,
	}

	var (
		total    int
		lastName string
		lastErr  error
		hint     time.Duration
	)
	for _, backend := range c.health.Order(c.backends) {
		name := backend.Name()
		var completion aidomain.Completion

		attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
			callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			out, err := backend.Complete(callCtx, prompt)
			if err != nil {
				// A per-call timeout surfaces as the parent's error when the parent is done.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.health.RecordFailure(name)
				c.obsMetrics.RecordProviderAttempt(ctx, name, attemptOutcome(err))
				c.log.Warn("provider attempt failed",
					zap.String("provider", name),
					zap.Int("attempt", attempt),
					zap.Bool("transient", aidomain.IsTransient(err)),
					zap.Error(err),
				)
				return err
			}
			c.health.RecordSuccess(name)
			c.obsMetrics.RecordProviderAttempt(ctx, name, "success")
			completion = out
			return nil
		})
		total += attempts

		if err == nil {
			return completionResult{completion: completion, provider: name, attempts: total}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return completionResult{}, ctxErr
		}
		if !aidomain.IsTransient(err) {
			perm := &aidomain.PermanentError{Provider: name, Err: err}
			var statusErr *aidomain.StatusError
			if errors.As(err, &statusErr) {
				perm.StatusCode = statusErr.StatusCode
			}
			return completionResult{}, perm
		}

		lastName, lastErr = name, err
		var statusErr *aidomain.StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > hint {
			hint = statusErr.RetryAfter
		}
	}

	retryAfter := policy.Delay(cfg.MaxAttempts)
	if hint > retryAfter {
		retryAfter = hint
	}
	return completionResult{}, &aidomain.TransientError{
		Provider:   lastName,
		Attempts:   total,
		RetryAfter: retryAfter,
		Err:        lastErr,
	}
}

func attemptOutcome(err error) string {
	if aidomain.IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
