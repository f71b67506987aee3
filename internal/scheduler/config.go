package scheduler

import (
	"time"

	"github.com/smallbiznis/reviewdesk/internal/config"
)

// Config controls the run loop interval and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		BatchSize:   100,
		JobTimeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(credits *config.CreditsConfigHolder) Config {
	policy := credits.Get().Scheduler
	return Config{
		RunInterval: policy.RolloverInterval,
		BatchSize:   policy.BatchSize,
	}.withDefaults()
}
