// Package hostmonitor implements the Host Monitor loop of spec.md §4.3: it
// samples host-level CPU/RAM/GPU, refreshes node_stats_cache, and folds the
// result into this node's ClusterReport.
package hostmonitor

import (
	"context"
	"time"

	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/probe"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/rs/zerolog"
)

// HostMonitor owns the periodic host-sampling loop.
type HostMonitor struct {
	probe  *probe.SystemProbe
	state  *state.State
	bus    *bus.Bus
	logger zerolog.Logger
}

// New creates a HostMonitor.
func New(p *probe.SystemProbe, st *state.State, b *bus.Bus, logger zerolog.Logger) *HostMonitor {
	return &HostMonitor{probe: p, state: st, bus: b, logger: logger.With().Str("component", "hostmonitor").Logger()}
}

// Run ticks Tick every interval until ctx is cancelled.
func (h *HostMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Tick(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("host monitor tick failed")
			}
		}
	}
}

// Tick performs the five-step composition of spec.md §4.3.
func (h *HostMonitor) Tick(ctx context.Context) error {
	sample, err := h.probe.Sample(ctx)
	if err != nil {
		return err
	}

	stats := domain.NodeStats{
		Name:        h.state.NodeName(),
		CPUUsage:    sample.CPUUsage,
		RAMUsed:     sample.RAMUsed,
		RAMTotal:    sample.RAMTotal,
		GPUUsage:    sample.GPUUsage,
		GPUMemUsed:  sample.GPUMemUsed,
		GPUMemTotal: sample.GPUMemTotal,
		LastSeen:    time.Now(),
		Status:      domain.NodeOnline,
	}
	h.state.SetNodeStats(stats)

	report := domain.ClusterReport{
		Node:      h.state.NodeName(),
		Stats:     stats,
		Services:  h.state.Services(),
		Timestamp: stats.LastSeen,
	}
	h.state.UpsertClusterReport(report)

	h.bus.Publish(domain.Event{Type: domain.EventClusterUpdate, Data: h.state.ClusterReports()})
	return nil
}
