package observability

import (
	"strings"

	"github.com/smallbiznis/reviewdesk/internal/config"
)

const defaultServiceName = "reviewdesk"

// Config is the telemetry view of the application config shared by the
// logger, tracer and meter providers.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	ExportEnabled  bool
	ExportEndpoint string
	ExportProtocol string
	SampleRatio    float64

	debug bool
}

func NewConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}
	t := cfg.Telemetry

	protocol := t.OTLPProtocol
	if protocol != "http" {
		protocol = "grpc"
	}
	ratio := t.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:    name,
		Environment:    strings.TrimSpace(cfg.Environment),
		Version:        strings.TrimSpace(cfg.AppVersion),
		LogLevel:       t.LogLevel,
		LogFormat:      t.LogFormat,
		ExportEnabled:  t.OTLPEnabled,
		ExportEndpoint: strings.TrimSpace(t.OTLPEndpoint),
		ExportProtocol: protocol,
		SampleRatio:    ratio,
		debug:          cfg.IsDevelopment(),
	}
}

// Debug enables development logging and gin debug mode.
func (c Config) Debug() bool {
	return c.debug || c.LogLevel == "debug"
}
