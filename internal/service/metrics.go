package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"price-advisor/internal/engine"
	"price-advisor/internal/storage"
)

// Metrics holds the advisor's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	analyses      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      prometheus.Histogram
	notifications *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "priceadvisor",
			Name:      "analyses_total",
			Help:      "Completed analyses by recommendation tier.",
		}, []string{"tier"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "priceadvisor",
			Name:      "analysis_failures_total",
			Help:      "Failed analyses by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "priceadvisor",
			Name:      "analysis_duration_seconds",
			Help:      "Time spent loading and scoring one item.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "priceadvisor",
			Name:      "notifications_total",
			Help:      "Alerts dispatched by recommendation tier.",
		}, []string{"tier"}),
	}
	if reg != nil {
		reg.MustRegister(m.analyses, m.failures, m.duration, m.notifications)
	}
	return m
}

func (m *Metrics) observe(report *Report, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(failureReason(err)).Inc()
		return
	}
	m.analyses.WithLabelValues(string(report.Result.Tier)).Inc()
}

func (m *Metrics) notified(tier engine.Tier) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(tier)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, engine.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, engine.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
