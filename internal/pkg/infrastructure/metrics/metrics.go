package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

type Metrics struct {
	reports       *prometheus.CounterVec
	rejected      prometheus.Counter
	notifications *prometheus.CounterVec
	pushLatency   prometheus.Histogram
	devices       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fill_level_reports_total",
			Help: "Accepted fill level reports by level.",
		}, []string{"level"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fill_level_reports_rejected_total",
			Help: "Reports rejected because of invalid device id or level.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fill_level_notifications_total",
			Help: "Top level entries by outcome (sent, suppressed, failed).",
		}, []string{"outcome"}),
		pushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fill_level_push_latency_seconds",
			Help:    "Round trip time of calls to the push server.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fill_level_devices",
			Help: "Number of devices with a known status.",
		}),
	}

	reg.MustRegister(m.reports, m.rejected, m.notifications, m.pushLatency, m.devices)

	return m
}

func (m *Metrics) ReportAccepted(level string) {
	m.reports.WithLabelValues(level).Inc()
}

func (m *Metrics) ReportRejected() {
	m.rejected.Inc()
}

func (m *Metrics) Notification(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PushLatency(seconds float64) {
	m.pushLatency.Observe(seconds)
}

func (m *Metrics) DeviceAdded() {
	m.devices.Inc()
}

// DevicesKnown sets the device gauge, e.g. from persisted statuses at startup.
func (m *Metrics) DevicesKnown(n int) {
	m.devices.Set(float64(n))
}
