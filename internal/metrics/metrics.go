// Package metrics provides Prometheus metrics for seif.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "seif"

// Metrics contains all Prometheus metrics for a seif peer.
type Metrics struct {
	// Session metrics
	SessionsOpen    prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionCloses   *prometheus.CounterVec
	SessionLifetime prometheus.Histogram

	// Handshake metrics
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	// Data transfer metrics
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	RecordsSent     *prometheus.CounterVec
	RecordsReceived *prometheus.CounterVec

	// IV schedule metrics
	IVExhaustions *prometheus.CounterVec

	// Redial metrics
	RedialAttempts prometheus.Counter
	RedialSuccess  prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered
// against reg, so tests and embedders can avoid collisions with the
// global registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of currently established sessions",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions established, by role",
		}, []string{"role"}),
		SessionCloses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_closes_total",
			Help:      "Total sessions closed, by reason",
		}, []string{"reason"}),
		SessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lifetime_seconds",
			Help:      "Histogram of session lifetime from established to closed",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of handshake completion latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake failures by reason",
		}, []string{"reason"}),

		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total application bytes sent, by session role",
		}, []string{"role"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total application bytes received, by session role",
		}, []string{"role"}),
		RecordsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_sent_total",
			Help:      "Total framed records sent, by record type",
		}, []string{"record_type"}),
		RecordsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_received_total",
			Help:      "Total framed records received, by record type",
		}, []string{"record_type"}),

		IVExhaustions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iv_exhaustions_total",
			Help:      "Total sessions terminated by IV counter exhaustion, by direction",
		}, []string{"direction"}),

		RedialAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redial_attempts_total",
			Help:      "Total redial attempts, after a redirect or for a startup peer",
		}),
		RedialSuccess: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redial_success_total",
			Help:      "Total successful redials, after a redirect or for a startup peer",
		}),
	}
}

// RecordSessionOpen records a newly established session.
func (m *Metrics) RecordSessionOpen(role string) {
	m.SessionsOpen.Inc()
	m.SessionsTotal.WithLabelValues(role).Inc()
}

// RecordSessionClose records a session closing, along with the time it
// was open for.
func (m *Metrics) RecordSessionClose(reason string, lifetimeSeconds float64) {
	m.SessionsOpen.Dec()
	m.SessionCloses.WithLabelValues(reason).Inc()
	m.SessionLifetime.Observe(lifetimeSeconds)
}

// RecordHandshake records a successful handshake's latency.
func (m *Metrics) RecordHandshake(latencySeconds float64) {
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordHandshakeError records a handshake failure.
func (m *Metrics) RecordHandshakeError(reason string) {
	m.HandshakeErrors.WithLabelValues(reason).Inc()
}

// RecordBytesSent records application bytes sent for role ("initiator" or
// "responder").
func (m *Metrics) RecordBytesSent(role string, n int) {
	m.BytesSent.WithLabelValues(role).Add(float64(n))
}

// RecordBytesReceived records application bytes received for role.
func (m *Metrics) RecordBytesReceived(role string, n int) {
	m.BytesReceived.WithLabelValues(role).Add(float64(n))
}

// RecordRecordSent records one framed record sent of the given type.
func (m *Metrics) RecordRecordSent(recordType string) {
	m.RecordsSent.WithLabelValues(recordType).Inc()
}

// RecordRecordReceived records one framed record received of the given
// type.
func (m *Metrics) RecordRecordReceived(recordType string) {
	m.RecordsReceived.WithLabelValues(recordType).Inc()
}

// RecordIVExhaustion records a session terminated because its IV counter
// reached its limit in the given direction ("send" or "recv").
func (m *Metrics) RecordIVExhaustion(direction string) {
	m.IVExhaustions.WithLabelValues(direction).Inc()
}

// RecordRedialAttempt records a redial attempt: the seif façade calls it
// for each re-dial after a redirect, and seifctl run for each dial of a
// startup peer.
func (m *Metrics) RecordRedialAttempt() {
	m.RedialAttempts.Inc()
}

// RecordRedialSuccess records a successful redial: a redirect re-dial that
// connected, or a startup peer's session opening.
func (m *Metrics) RecordRedialSuccess() {
	m.RedialSuccess.Inc()
}
