package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRelayMetricsCountsDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelayMetrics(reg)

	m.ObserveDelivery("referral_rewarded", DeliveryPublished)
	m.ObserveDelivery("referral_rewarded", DeliveryPublished)
	m.ObserveDelivery("", DeliveryParked)
	m.ObserveBatch(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "face10ai_outbox_deliveries_total", "outcome", DeliveryPublished); err != nil || got != 2 {
		t.Fatalf("published deliveries = %v (%v), want 2", got, err)
	}
	if got, err := fetchCounterValue(mfs, "face10ai_outbox_deliveries_total", "event_type", "unknown"); err != nil || got != 1 {
		t.Fatalf("unknown event type deliveries = %v (%v), want 1", got, err)
	}
	batch := findMetricFamily(mfs, "face10ai_outbox_last_batch_rows")
	if batch == nil || batch.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatal("batch gauge not recorded")
	}
}

func TestRelayMetricsNilSafe(t *testing.T) {
	var m *RelayMetrics
	m.ObserveDelivery("x", DeliveryRetrying)
	m.ObserveBatch(1)
	NewRelayMetrics(nil).ObserveBatch(2)
}
