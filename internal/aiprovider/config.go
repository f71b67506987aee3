package aiprovider

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProvidersConfig lists AI backends in priority order.
type ProvidersConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Reply   string `yaml:"reply"`
}

// LoadProviders reads a YAML provider file. ${VAR} references are expanded
// from the environment before parsing. A missing file yields an empty list.
func LoadProviders(path string) (ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ProvidersConfig{}, nil
		}
		return ProvidersConfig{}, fmt.Errorf("aiprovider: read providers: %w", err)
	}

	var cfg ProvidersConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return ProvidersConfig{}, fmt.Errorf("aiprovider: parse providers: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ProvidersConfig{}, err
	}
	return cfg, nil
}

func (c ProvidersConfig) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch strings.ToLower(p.Type) {
		case "anthropic", "openai", "mock":
		case "":
			return fmt.Errorf("aiprovider: providers[%d]: type is required", i)
		default:
			return fmt.Errorf("aiprovider: providers[%d]: unsupported type %q", i, p.Type)
		}
		name := p.displayName()
		if names[name] {
			return fmt.Errorf("aiprovider: duplicate provider name %q", name)
		}
		names[name] = true
	}
	return nil
}

func (p ProviderConfig) displayName() string {
	if p.Name != "" {
		return p.Name
	}
	return strings.ToLower(p.Type)
}
