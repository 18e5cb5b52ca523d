package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay delivery outcomes.
const (
	DeliveryPublished = "published"
	DeliveryRetrying  = "retrying"
	DeliveryParked    = "parked"
)

// RelayMetrics tracks outbox rows moved to Pub/Sub.
type RelayMetrics struct {
	deliveries *prometheus.CounterVec
	batch      prometheus.Gauge
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "deliveries_total",
		Help:      "Outbox rows handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batch := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "last_batch_rows",
		Help:      "Rows fetched by the most recent relay batch.",
	})
	reg.MustRegister(deliveries, batch)
	return &RelayMetrics{deliveries: deliveries, batch: batch}
}

func (m *RelayMetrics) ObserveDelivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *RelayMetrics) ObserveBatch(rows int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Set(float64(rows))
}
