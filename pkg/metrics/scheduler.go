package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "face10ai"

// Scheduler run outcomes.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunLeased    = "leased"
)

// SchedulerMetrics tracks maintenance job runs. Leased runs were skipped
// because another replica held the job's lease.
type SchedulerMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return &SchedulerMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Maintenance job runs by job and outcome.",
	}, []string{"job", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Wall time of maintenance job runs.",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
	}, []string{"job"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "job_last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run per job.",
	}, []string{"job"})
	reg.MustRegister(runs, duration, lastSuccess)
	return &SchedulerMetrics{runs: runs, duration: duration, lastSuccess: lastSuccess}
}

// ObserveRun records one finished run. Duration is ignored for leased runs.
func (m *SchedulerMetrics) ObserveRun(job, outcome string, took time.Duration, at time.Time) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
	if outcome == RunLeased {
		return
	}
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if outcome == RunSucceeded {
		m.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
