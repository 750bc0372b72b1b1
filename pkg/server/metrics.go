package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/tether/pkg/protocol"
)

// Admission results recorded by Metrics.
const (
	admissionAccepted        = "accepted"
	admissionRateLimited     = "rate_limited"
	admissionSemaphoreClosed = "semaphore_closed"
	admissionHandshakeError  = "handshake_error"
	admissionUnauthorized    = "unauthorized"
)

// Eviction modes recorded by Metrics.
const (
	evictionTerminate = "terminate"
	evictionAbort     = "abort"
)

// Metrics holds the Prometheus collectors for admission and sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions   prometheus.Gauge
	admissions       *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	closes           *prometheus.CounterVec
	livenessTimeouts prometheus.Counter
	messages         *prometheus.CounterVec
}

// NewMetrics registers the session collectors with reg under namespace.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "tether"
	}
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live actors",
		}),
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Connection attempts by admission result",
		}, []string{"result"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Actors replaced by a newer session with the same client id",
		}, []string{"mode"}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_closes_total",
			Help:      "Closed sessions by close reason",
		}, []string{"reason"}),
		livenessTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_timeouts_total",
			Help:      "Sessions ended because the client stopped answering pings",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Protocol messages by direction and kind",
		}, []string{"direction", "kind"}),
	}
}

func (m *Metrics) admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed(reason protocol.CloseReason) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.closes.WithLabelValues(reason.Code.String()).Inc()
}

func (m *Metrics) eviction(mode string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(mode).Inc()
}

func (m *Metrics) livenessTimeout() {
	if m == nil {
		return
	}
	m.livenessTimeouts.Inc()
}

func (m *Metrics) messageSent(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("out", kind.String()).Inc()
}

func (m *Metrics) messageReceived(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues("in", kind.String()).Inc()
}
