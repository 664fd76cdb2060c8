// Package metrics exposes Prometheus collectors for the control plane's
// queue depth, tool invocation counts, and permission grant transitions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector this service exposes, registered
// against a caller-supplied prometheus.Registerer so tests can use an
// isolated registry instead of the global default.
type Registry struct {
	InboxDepth        prometheus.Gauge
	ToolInvocations   *prometheus.CounterVec
	GrantTransitions  *prometheus.CounterVec
	BrainWorkerErrors prometheus.Counter
}

// New constructs and registers a Registry against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		InboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "brainctl",
			Subsystem: "brain",
			Name:      "inbox_depth",
			Help:      "Current number of items waiting in the brain runtime inbox.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "dispatcher",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name and result status.",
		}, []string{"tool", "status"}),
		GrantTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "permission",
			Name:      "grant_transitions_total",
			Help:      "Permission grant state transitions by resulting status.",
		}, []string{"status"}),
		BrainWorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "brainctl",
			Subsystem: "brain",
			Name:      "worker_errors_total",
			Help:      "Inbox items that failed processing in the brain runtime worker loop.",
		}),
	}
	reg.MustRegister(r.InboxDepth, r.ToolInvocations, r.GrantTransitions, r.BrainWorkerErrors)
	return r
}
