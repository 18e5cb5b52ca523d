package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLedgerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.ObserveCredits("usage", -1)
	m.ObserveCredits("usage", -1)
	m.ObserveCredits("referral", 10)
	m.ObserveCredits("renewal", 0)
	m.ObserveAnalysis("cached")
	m.ObserveWebhook("invoice.paid", "applied")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	family := findMetricFamily(mfs, "face10ai_ledger_credit_movements_total")
	if family == nil {
		t.Fatal("credit movements metric missing")
	}
	if got := counterWithLabels(family, map[string]string{"type": "usage", "direction": "debit"}); got != 2 {
		t.Fatalf("expected 2 usage debits, got %f", got)
	}
	if got := counterWithLabels(family, map[string]string{"type": "referral", "direction": "credit"}); got != 1 {
		t.Fatalf("expected 1 referral credit, got %f", got)
	}
	if got := counterWithLabels(family, map[string]string{"type": "renewal"}); got != 0 {
		t.Fatalf("zero-amount movements must not be counted, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "face10ai_analysis_requests_total", "outcome", "cached"); err != nil || got != 1 {
		t.Fatalf("expected cached=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "face10ai_billing_webhook_events_total", "event_type", "invoice.paid"); err != nil || got != 1 {
		t.Fatalf("expected invoice.paid=1, got %f (%v)", got, err)
	}
}

func TestLedgerMetricsNilSafe(t *testing.T) {
	var m *LedgerMetrics
	m.ObserveCredits("usage", -1)
	m.ObserveAnalysis("cached")
	m.ObserveWebhook("x", "y")

	NewLedgerMetrics(nil).ObserveCredits("usage", -1)
}

func counterWithLabels(mf *dto.MetricFamily, want map[string]string) float64 {
	var total float64
	for _, metric := range mf.GetMetric() {
		matched := true
		for name, value := range want {
			if !matchesLabel(metric.GetLabel(), name, value) {
				matched = false
				break
			}
		}
		if matched {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
