package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerEntries     metric.Int64Counter
	insufficientFunds metric.Int64Counter
	generations       metric.Int64Counter
	providerAttempts  metric.Int64Counter
	sentiment         metric.Int64Counter
	duplicates        metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		)),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "reviewdesk"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.ledgerEntries, "reviewdesk_ledger_entries_total", "Usage records written by action and pool."},
		{&m.insufficientFunds, "reviewdesk_insufficient_funds_total", "Deductions rejected for lack of balance."},
		{&m.generations, "reviewdesk_generations_total", "Response generations by action and outcome."},
		{&m.providerAttempts, "reviewdesk_provider_attempts_total", "AI provider calls by provider and outcome."},
		{&m.sentiment, "reviewdesk_sentiment_classifications_total", "Sentiment classifications by source."},
		{&m.duplicates, "reviewdesk_duplicate_reviews_total", "Review submissions rejected as duplicates."},
		{&m.rateLimitDenied, "reviewdesk_rate_limit_denied_total", "Requests rejected by the generation rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	return m, nil
}

// NewNop returns instruments bound to a no-op provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, action, pool string) {
	if m != nil {
		m.add(ctx, m.ledgerEntries, label("action", action), label("pool", pool))
	}
}

func (m *Metrics) RecordInsufficientFunds(ctx context.Context, pool string) {
	if m != nil {
		m.add(ctx, m.insufficientFunds, label("pool", pool))
	}
}

// RecordGeneration counts generate and regenerate outcomes.
func (m *Metrics) RecordGeneration(ctx context.Context, action, outcome string) {
	if m != nil {
		m.add(ctx, m.generations, label("action", action), label("outcome", outcome))
	}
}

func (m *Metrics) RecordProviderAttempt(ctx context.Context, provider, outcome string) {
	if m != nil {
		m.add(ctx, m.providerAttempts, label("provider", provider), label("outcome", outcome))
	}
}

func (m *Metrics) RecordSentiment(ctx context.Context, source string) {
	if m != nil {
		m.add(ctx, m.sentiment, label("source", source))
	}
}

func (m *Metrics) RecordDuplicateReview(ctx context.Context) {
	if m != nil {
		m.add(ctx, m.duplicates)
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m != nil {
		m.add(ctx, m.rateLimitDenied, label("endpoint", endpoint))
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Account and review identifiers are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"action":      {},
	"pool":        {},
	"outcome":     {},
	"provider":    {},
	"source":      {},
	"endpoint":    {},
	"route":       {},
	"method":      {},
	"status_code": {},
	"tier":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
