// Package metrics exposes the supervision kernel's prometheus collectors:
// scan ticks, auto-pilot outcomes, bus drops, and cached node count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the agent registers.
type Metrics struct {
	AgentInfo       *prometheus.GaugeVec
	ScanTicks       prometheus.Counter
	ScanErrors      prometheus.Counter
	RecreateOutcome *prometheus.CounterVec
	BusDrops        prometheus.Counter
	NodesCached     prometheus.Gauge
}

// New registers and returns the agent's collectors against the default
// registry, in the style of cmd/pulse-agent/main.go's package-level
// promauto.New* calls.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers against an explicit registerer, letting tests
// use an isolated prometheus.NewRegistry() instead of the process-wide
// default (which would panic on duplicate registration across test cases).
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AgentInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "node_agent_info",
			Help: "Information about the node agent build and mode",
		}, []string{"version", "mode", "node_name"}),

		ScanTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_agent_scan_ticks_total",
			Help: "Number of completed Scanner ticks",
		}),

		ScanErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_agent_scan_errors_total",
			Help: "Number of Scanner ticks that failed to enumerate containers",
		}),

		RecreateOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "node_agent_recreate_outcome_total",
			Help: "Outcome of atomic-recreate attempts by result",
		}, []string{"outcome"}),

		BusDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "node_agent_bus_drops_total",
			Help: "Number of events dropped for a slow Bus subscriber",
		}),

		NodesCached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "node_agent_nodes_cached",
			Help: "Number of nodes currently present in the cluster cache",
		}),
	}
}
