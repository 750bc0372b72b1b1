package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tether").
	Namespace string

	// Subsystem is the metrics subsystem (default: "handler").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for processing duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "tether",
		Subsystem: "handler",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	messageErrors   *prometheus.CounterVec
}

// globalMetrics is shared by every Prometheus middleware so repeated calls
// do not register the same collectors twice.
var (
	globalMetrics   *metrics
	globalMetricsMu sync.Mutex
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of app messages processed by the handler",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "status"}),

		messageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "message_duration_seconds",
			Help:        "Handler processing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		messageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "message_errors_total",
			Help:        "Total number of handler errors",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "error_type"}),
	}
}

// Prometheus creates middleware that times and counts every message the
// wrapped handler processes.
//
// Metrics collected:
//   - tether_handler_messages_total: messages by kind and status
//   - tether_handler_message_duration_seconds: processing duration by kind
//   - tether_handler_message_errors_total: errors by kind and category
//
// Example:
//
//	h := middleware.Chain(username.NewHandler(store),
//	    middleware.Prometheus(middleware.WithRegistry(reg)),
//	)
func Prometheus(opts ...MetricsOption) Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, c *server.Context, msg protocol.AppMessage) error {
			kind := msg.Kind().String()
			start := time.Now()

			err := call(ctx, next, c, msg)

			m.messageDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			status := "success"
			if err != nil {
				status = "error"
				m.messageErrors.WithLabelValues(kind, categorizeError(err)).Inc()
			}
			m.messagesTotal.WithLabelValues(kind, status).Inc()
			return err
		})
	}
}

// categorizeError maps err to a small fixed set of label values.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, server.ErrTerminated):
		return "terminated"
	}
	var sessionErr *server.SessionError
	if errors.As(err, &sessionErr) {
		return "send"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "unauthorized"):
		return "unauthorized"
	case strings.Contains(errStr, "invalid"):
		return "validation"
	default:
		return "internal"
	}
}
