package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the SMS gateway.
type Metrics struct {
	SendTotal         *prometheus.CounterVec
	SendDurationMs    *prometheus.HistogramVec
	PolicyDeniedTotal *prometheus.CounterVec
	RateLimitHitTotal *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics and registers them with reg. A nil
// reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SendTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_send_total",
			Help: "Total number of SMS sends attempted, by provider and outcome.",
		}, []string{"provider", "status", "code"}),

		SendDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sms_send_duration_ms",
			Help:    "SMS send duration in milliseconds, including provider latency.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"provider"}),

		PolicyDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_policy_denied_total",
			Help: "Total sends rejected by the message policy.",
		}, []string{"reason"}),

		RateLimitHitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_rate_limit_hit_total",
			Help: "Total sends rejected by a rate limit or quota.",
		}, []string{"dimension"}),
	}
}

// SendLabels holds the label values for recording a send.
type SendLabels struct {
	Provider   string
	Status     string
	Code       string
	DurationMs float64
}

// RecordSend records metrics for a completed send.
func (m *Metrics) RecordSend(labels SendLabels) {
	if m == nil {
		return
	}
	m.SendTotal.WithLabelValues(labels.Provider, labels.Status, labels.Code).Inc()
	m.SendDurationMs.WithLabelValues(labels.Provider).Observe(labels.DurationMs)
}

func (m *Metrics) RecordPolicyDenied(reason string) {
	if m == nil {
		return
	}
	m.PolicyDeniedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRateLimitHit(dimension string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}
