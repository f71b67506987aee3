package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("action", "generate"),
		attribute.String("account_id", "456"),
		attribute.String("pool", "credits"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("expected account_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordLedgerEntry(context.Background(), "generate", "credits")
	m.RecordGeneration(context.Background(), "generate", "success")
	m.RecordProviderAttempt(context.Background(), "mock", "transient")
}

func TestNopMetricsRecord(t *testing.T) {
	m := NewNop()
	if m == nil {
		t.Fatalf("expected nop metrics")
	}
	m.RecordInsufficientFunds(context.Background(), "credits")
	m.RecordSentiment(context.Background(), "heuristic")
}
