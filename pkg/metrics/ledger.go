package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts credit movements, analysis outcomes and billing webhooks.
type LedgerMetrics struct {
	credits  *prometheus.CounterVec
	analyses *prometheus.CounterVec
	webhooks *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on reg. A nil registerer yields no-op metrics.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "credit_movements_total",
		Help:      "Credit transactions written, by transaction type and direction.",
	}, []string{"type", "direction"})
	analyses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Analysis requests by outcome.",
	}, []string{"outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Billing webhook events by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(credits, analyses, webhooks)
	return &LedgerMetrics{credits: credits, analyses: analyses, webhooks: webhooks}
}

// ObserveCredits records one ledger transaction of the given type and signed amount.
func (m *LedgerMetrics) ObserveCredits(txType string, amount int) {
	if m == nil || m.credits == nil || amount == 0 {
		return
	}
	direction := "credit"
	if amount < 0 {
		direction = "debit"
	}
	m.credits.WithLabelValues(normalizeLabel(txType), direction).Inc()
}

// ObserveAnalysis records an analysis request outcome (cached, scored, fallback, denied).
func (m *LedgerMetrics) ObserveAnalysis(outcome string) {
	if m == nil || m.analyses == nil {
		return
	}
	m.analyses.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveWebhook records a processed billing webhook.
func (m *LedgerMetrics) ObserveWebhook(eventType, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
