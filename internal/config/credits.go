package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TierAllowance is the per-cycle grant of a subscription tier.
type TierAllowance struct {
	Credits        float64 `mapstructure:"credits"`
	SentimentQuota int64   `mapstructure:"sentiment_quota"`
}

type SentimentPolicy struct {
	// ChargeFallback makes heuristic classifications consume sentiment quota.
	ChargeFallback bool `mapstructure:"charge_fallback"`
}

type ProviderPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxLength   int           `mapstructure:"max_length"`
	MaxSamples  int           `mapstructure:"max_samples"`
}

type SchedulerPolicy struct {
	RolloverInterval time.Duration `mapstructure:"rollover_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// CreditsConfig carries metering costs, tier allowances and provider policy.
type CreditsConfig struct {
	GenerateCost    float64                  `mapstructure:"generate_cost"`
	RegenerateCost  float64                  `mapstructure:"regenerate_cost"`
	CycleLengthDays int                      `mapstructure:"cycle_length_days"`
	DefaultTier     string                   `mapstructure:"default_tier"`
	Tiers           map[string]TierAllowance `mapstructure:"tiers"`
	DuplicateWindow time.Duration            `mapstructure:"duplicate_window"`
	Sentiment       SentimentPolicy          `mapstructure:"sentiment"`
	Provider        ProviderPolicy           `mapstructure:"provider"`
	Scheduler       SchedulerPolicy          `mapstructure:"scheduler"`
}

func DefaultCreditsConfig() CreditsConfig {
	return CreditsConfig{
		GenerateCost:    1.0,
		RegenerateCost:  0.5,
		CycleLengthDays: 30,
		DefaultTier:     "free",
		Tiers: map[string]TierAllowance{
			"free":    {Credits: 10, SentimentQuota: 25},
			"starter": {Credits: 100, SentimentQuota: 250},
			"pro":     {Credits: 500, SentimentQuota: 1000},
		},
		DuplicateWindow: 5 * time.Minute,
		Provider: ProviderPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Timeout:     30 * time.Second,
			MaxLength:   1500,
			MaxSamples:  3,
		},
		Scheduler: SchedulerPolicy{
			RolloverInterval: time.Hour,
			BatchSize:        100,
		},
	}
}

// Tier returns the allowance for the named tier.
func (c CreditsConfig) Tier(name string) (TierAllowance, bool) {
	allowance, ok := c.Tiers[strings.ToLower(strings.TrimSpace(name))]
	return allowance, ok
}

type CreditsConfigHolder struct {
	current atomic.Value // holds CreditsConfig
}

func NewCreditsConfigHolder() (*CreditsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("credits")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/reviewdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REVIEWDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return newCreditsConfigHolder(v)
}

// NewStaticCreditsConfigHolder wraps a fixed config without file watching.
func NewStaticCreditsConfigHolder(cfg CreditsConfig) *CreditsConfigHolder {
	holder := &CreditsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func newCreditsConfigHolder(v *viper.Viper) (*CreditsConfigHolder, error) {
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeCreditsConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticCreditsConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCreditsConfig(v)
		if err != nil {
			zap.L().Warn("credits config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("credits config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func decodeCreditsConfig(v *viper.Viper) (CreditsConfig, error) {
	cfg := DefaultCreditsConfig()
	if v.IsSet("credits") {
		if err := v.UnmarshalKey("credits", &cfg); err != nil {
			return CreditsConfig{}, err
		}
	}
	normalized := make(map[string]TierAllowance, len(cfg.Tiers))
	for name, allowance := range cfg.Tiers {
		normalized[strings.ToLower(strings.TrimSpace(name))] = allowance
	}
	cfg.Tiers = normalized
	cfg.DefaultTier = strings.ToLower(strings.TrimSpace(cfg.DefaultTier))
	if err := validateCreditsConfig(cfg); err != nil {
		return CreditsConfig{}, err
	}
	return cfg, nil
}

func (h *CreditsConfigHolder) Get() CreditsConfig {
	return h.current.Load().(CreditsConfig)
}

func validateCreditsConfig(cfg CreditsConfig) error {
	if cfg.GenerateCost <= 0 {
		return errors.New("credits.generate_cost must be positive")
	}
	if cfg.RegenerateCost <= 0 {
		return errors.New("credits.regenerate_cost must be positive")
	}
	if cfg.CycleLengthDays <= 0 {
		return errors.New("credits.cycle_length_days must be positive")
	}
	if len(cfg.Tiers) == 0 {
		return errors.New("credits.tiers cannot be empty")
	}
	for name, allowance := range cfg.Tiers {
		if allowance.Credits < 0 || allowance.SentimentQuota < 0 {
			return fmt.Errorf("credits.tiers.%s: allowances cannot be negative", name)
		}
	}
	if _, ok := cfg.Tiers[cfg.DefaultTier]; !ok {
		return fmt.Errorf("credits.default_tier %q is not a configured tier", cfg.DefaultTier)
	}
	if cfg.Provider.MaxAttempts <= 0 {
		return errors.New("credits.provider.max_attempts must be positive")
	}
	if cfg.Provider.MaxLength <= 0 {
		return errors.New("credits.provider.max_length must be positive")
	}
	return nil
}
