package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appsync_client"

// Metrics holds every collector exported by the client.
type Metrics struct {
	attempts         *prometheus.CounterVec
	operations       *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	connections      *prometheus.CounterVec
	keepAliveLapses  prometheus.Counter
	subscriptions    prometheus.Gauge
	frames           *prometheus.CounterVec
	subscriptionEnds *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "attempts_total",
				Help:      "GraphQL HTTP attempts by operation type and result",
			},
			[]string{"operation", "result"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "operations_total",
				Help:      "GraphQL operations by operation type and final outcome",
			},
			[]string{"operation", "outcome"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of single GraphQL HTTP attempts",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"operation"},
		),
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "connections_total",
				Help:      "Realtime connection attempts by result",
			},
			[]string{"result"},
		),
		keepAliveLapses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "keepalive_lapses_total",
				Help:      "Connections torn down because no keep-alive arrived in time",
			},
		),
		subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "subscriptions_active",
				Help:      "Subscriptions currently registered with the multiplexer",
			},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "frames_total",
				Help:      "Inbound realtime frames by type",
			},
			[]string{"type"},
		),
		subscriptionEnds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "realtime",
				Name:      "subscriptions_ended_total",
				Help:      "Subscriptions removed from the registry by reason",
			},
			[]string{"reason"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector, for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.attempts,
		m.operations,
		m.attemptDuration,
		m.connections,
		m.keepAliveLapses,
		m.subscriptions,
		m.frames,
		m.subscriptionEnds,
	}
}

// ObserveAttempt records one HTTP attempt.
func (m *Metrics) ObserveAttempt(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, result).Inc()
	m.attemptDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveOperation records the final outcome of a Post call.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ConnectionOpened records a successful handshake.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("ok").Inc()
}

// ConnectionFailed records a failed handshake.
func (m *Metrics) ConnectionFailed() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("error").Inc()
}

// KeepAliveLapsed records a watchdog teardown.
func (m *Metrics) KeepAliveLapsed() {
	if m == nil {
		return
	}
	m.keepAliveLapses.Inc()
}

// SubscriptionAdded increments the active subscription gauge.
func (m *Metrics) SubscriptionAdded() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

// SubscriptionRemoved decrements the gauge and counts the reason.
func (m *Metrics) SubscriptionRemoved(reason string) {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
	m.subscriptionEnds.WithLabelValues(reason).Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(frameType).Inc()
}
