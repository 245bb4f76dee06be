package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the quota package.
// A nil *Metrics is valid and records nothing, so metering can be
// disabled without branching at every call site.
type Metrics struct {
	// Admission checks
	capabilityChecks *prometheus.CounterVec
	rateLimitChecks  *prometheus.CounterVec
	lineCountChecks  *prometheus.CounterVec

	// Usage recording
	usageRecorded *prometheus.CounterVec

	// Window resets applied during checks
	windowResets *prometheus.CounterVec

	// Check latency
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered with reg.
// Tests use this with a throwaway registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		capabilityChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_quota_capability_checks_total",
				Help: "Total number of capability quota checks performed",
			},
			[]string{"capability", "result"},
		),

		rateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_quota_rate_limit_checks_total",
				Help: "Total number of API rate limit checks performed",
			},
			[]string{"result"},
		),

		lineCountChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_quota_line_count_checks_total",
				Help: "Total number of per-request line count checks performed",
			},
			[]string{"result"},
		),

		usageRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_quota_usage_recorded_total",
				Help: "Total number of usage increments recorded",
			},
			[]string{"capability"},
		),

		windowResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saturn_quota_window_resets_total",
				Help: "Total number of counter window resets applied",
			},
			[]string{"window"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "saturn_quota_check_duration_seconds",
				Help:    "Latency of admission control operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// result label values.
const (
	resultAllowed   = "allowed"
	resultDenied    = "denied"
	resultUnlimited = "unlimited"
)

func (m *Metrics) recordCapabilityCheck(capability Capability, result string) {
	if m == nil {
		return
	}
	m.capabilityChecks.WithLabelValues(string(capability), result).Inc()
}

func (m *Metrics) recordRateLimitCheck(result string) {
	if m == nil {
		return
	}
	m.rateLimitChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) recordLineCountCheck(result string) {
	if m == nil {
		return
	}
	m.lineCountChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) recordUsage(capability Capability) {
	if m == nil {
		return
	}
	m.usageRecorded.WithLabelValues(string(capability)).Inc()
}

func (m *Metrics) recordResets(stale staleGroups) {
	if m == nil {
		return
	}
	if stale.Daily {
		m.windowResets.WithLabelValues("daily").Inc()
	}
	if stale.Weekly {
		m.windowResets.WithLabelValues("weekly").Inc()
	}
	if stale.Minute {
		m.windowResets.WithLabelValues("minute").Inc()
	}
}

func (m *Metrics) observeDuration(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.checkDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
