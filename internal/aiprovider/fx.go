package aiprovider

import (
	"strings"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider/backend/anthropic"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider/backend/mock"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider/backend/openai"
	"github.com/smallbiznis/reviewdesk/internal/aiprovider/service"
	"github.com/smallbiznis/reviewdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("aiprovider",
	fx.Provide(NewBackends),
	fx.Provide(service.NewClient),
)

func NewBackends(cfg config.Config, log *zap.Logger) (aidomain.Backends, error) {
	providers, err := LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	backends := BuildBackends(providers, log)
	if len(backends) == 0 {
		log.Warn("no AI provider configured; generation is disabled and sentiment uses the heuristic",
			zap.String("file", cfg.ProvidersFile))
	}
	return backends, nil
}

// BuildBackends instantiates configured providers, skipping those whose API
// key did not resolve.
func BuildBackends(cfg ProvidersConfig, log *zap.Logger) aidomain.Backends {
	backends := make(aidomain.Backends, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		kind := strings.ToLower(p.Type)
		if kind != "mock" && strings.TrimSpace(p.APIKey) == "" {
			log.Warn("skipping provider without api key", zap.String("provider", p.displayName()))
			continue
		}

		switch kind {
		case "anthropic":
			backends = append(backends, anthropic.New(anthropic.Config{
				Name:    p.displayName(),
				APIKey:  p.APIKey,
				Model:   p.Model,
				BaseURL: p.BaseURL,
			}))
		case "openai":
			backends = append(backends, openai.New(openai.Config{
				Name:    p.displayName(),
				APIKey:  p.APIKey,
				Model:   p.Model,
				BaseURL: p.BaseURL,
			}))
		case "mock":
			opts := []mock.Option{mock.WithName(p.displayName())}
			if p.Model != "" {
				opts = append(opts, mock.WithModel(p.Model))
			}
			if p.Reply != "" {
				opts = append(opts, mock.WithReply(p.Reply))
			}
			backends = append(backends, mock.New(opts...))
		}
		log.Info("provider registered", zap.String("provider", p.displayName()), zap.String("type", kind))
	}
	return backends
}
