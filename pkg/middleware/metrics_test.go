package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusMiddleware_RecordsSuccessAndError(t *testing.T) {
	resetGlobalMetricsForTest()
	t.Cleanup(resetGlobalMetricsForTest)
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg), WithNamespace("test"))

	errBoom := errors.New("boom")
	h := mw(server.HandlerFunc(func(_ context.Context, _ *server.Context, msg protocol.AppMessage) error {
		if msg.Kind() == protocol.KindGenerateUsername {
			return errBoom
		}
		return nil
	}))

	ctx := context.Background()
	if err := h.Process(ctx, nil, check("river_fox")); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if err := h.Process(ctx, nil, protocol.GenerateUsername{}); !errors.Is(err, errBoom) {
		t.Fatalf("Process() error=%v, want errBoom", err)
	}

	m := globalMetrics
	if got := metricCounterValue(t, m.messagesTotal.WithLabelValues("CheckUsernameAvailability", "success")); got != 1 {
		t.Errorf("success count=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.messagesTotal.WithLabelValues("GenerateUsername", "error")); got != 1 {
		t.Errorf("error count=%v, want 1", got)
	}
	if got := metricCounterValue(t, m.messageErrors.WithLabelValues("GenerateUsername", "internal")); got != 1 {
		t.Errorf("error category count=%v, want 1", got)
	}
	if got := metricHistogramCount(t, m.messageDuration.WithLabelValues("CheckUsernameAvailability")); got != 1 {
		t.Errorf("duration samples=%d, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_handler_messages_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("test_handler_messages_total not registered")
	}
}

func TestPrometheusMiddleware_SharedAcrossCalls(t *testing.T) {
	resetGlobalMetricsForTest()
	t.Cleanup(resetGlobalMetricsForTest)
	reg := prometheus.NewRegistry()

	// A second call must not register the collectors again.
	Prometheus(WithRegistry(reg))
	Prometheus(WithRegistry(reg))
	if globalMetrics == nil {
		t.Fatal("metrics not initialized")
	}
}
