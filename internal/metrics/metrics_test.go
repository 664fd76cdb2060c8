package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegistry_ToolInvocationsIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ToolInvocations.WithLabelValues("filesystem", "ok").Inc()
	m.ToolInvocations.WithLabelValues("filesystem", "ok").Inc()

	metric := &dto.Metric{}
	if err := m.ToolInvocations.WithLabelValues("filesystem", "ok").Write(metric); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Fatalf("counter = %v, want 2", got)
	}
}
