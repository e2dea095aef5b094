// Package scanner implements the Scanner loop of spec.md §4.1: it enumerates
// local containers, derives per-container CPU/memory metrics, and replaces
// the shared services_cache every tick.
package scanner

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/runtime"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/rs/zerolog"
)

// Config configures a Scanner.
type Config struct {
	NodeName         string
	GPUNameHints     []string
	ScanStates       []string // empty means all states
	UpdateCheckTicks int      // default 12 (spec.md §4.1)
}

// Scanner owns the periodic container enumeration loop.
type Scanner struct {
	runtime runtime.ContainerRuntime
	state   *state.State
	bus     *bus.Bus
	logger  zerolog.Logger
	cfg     Config

	tick          int
	doUpdateCheck atomic.Bool
	cpuCount      int
}

// New creates a Scanner. updateCheckTicks falls back to 12 when <= 0.
func New(rt runtime.ContainerRuntime, st *state.State, b *bus.Bus, logger zerolog.Logger, cfg Config) *Scanner {
	if cfg.UpdateCheckTicks <= 0 {
		cfg.UpdateCheckTicks = 12
	}
	if len(cfg.GPUNameHints) == 0 {
		cfg.GPUNameHints = domain.DefaultGPUNameHints
	}
	return &Scanner{runtime: rt, state: st, bus: b, logger: logger.With().Str("component", "scanner").Logger(), cfg: cfg}
}

// Run ticks Scan every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("scan tick failed, retaining previous snapshot")
			}
		}
	}
}

// TakeUpdateCheck atomically reads and clears the do_update_check flag that
// the Auto-Pilot loop consumes (spec.md §4.1).
func (s *Scanner) TakeUpdateCheck() bool {
	return s.doUpdateCheck.CompareAndSwap(true, false)
}

func (s *Scanner) stateFilterAllows(status string) bool {
	if len(s.cfg.ScanStates) == 0 {
		return true
	}
	lower := strings.ToLower(status)
	for _, want := range s.cfg.ScanStates {
		if strings.Contains(lower, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

// Scan performs one enumeration tick, replacing services_cache and
// publishing services_update. Fails soft: an enumeration error is logged and
// the previous snapshot is retained (spec.md §4.1).
func (s *Scanner) Scan(ctx context.Context) error {
	summaries, err := s.runtime.ContainerList(ctx, containertypes.ListOptions{All: true})
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.ServiceInstance, len(summaries))
	for _, summary := range summaries {
		name := domain.NormalizeName(primaryName(summary.Names))
		if name == "" {
			continue
		}
		if !s.stateFilterAllows(summary.Status) {
			continue
		}

		svc := domain.ServiceInstance{
			Name:      name,
			ShortID:   domain.ShortID(summary.ID),
			Image:     summary.Image,
			Status:    summary.Status,
			AutoPilot: s.state.AutoPilotEnabled(name),
			HasGPU:    domain.HasGPUHeuristic(name, s.cfg.GPUNameHints),
			Node:      s.cfg.NodeName,
		}

		if domain.IsRunningStatus(summary.Status) {
			cpuUsage, memUsage, statErr := s.sampleOne(ctx, summary.ID)
			if statErr != nil {
				s.logger.Warn().Err(statErr).Str("container", summary.ID).Msg("failed to sample container stats")
			} else {
				svc.CPUUsage = cpuUsage
				svc.MemUsage = memUsage
			}
		} else {
			s.state.EvictCPUDelta(summary.ID)
		}

		fresh[name] = svc
	}

	s.state.ReplaceServices(fresh)

	out := make([]domain.ServiceInstance, 0, len(fresh))
	for _, svc := range fresh {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	s.bus.Publish(domain.Event{Type: domain.EventServicesUpdate, Data: out})

	s.tick++
	if s.tick >= s.cfg.UpdateCheckTicks {
		s.tick = 0
		s.doUpdateCheck.Store(true)
	}

	return nil
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// sampleOne takes a one-shot (non-streaming) stats sample and returns
// (cpu_usage_percent, mem_usage_mib).
func (s *Scanner) sampleOne(ctx context.Context, containerID string) (float64, int64, error) {
	reader, err := s.runtime.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Body.Close()

	var stats containertypes.StatsResponse
	if err := decodeStats(reader, &stats); err != nil {
		return 0, 0, err
	}

	memUsage := int64(stats.MemoryStats.Usage) / (1024 * 1024)
	cpuUsage := s.calculateCPUPercent(containerID, stats)
	return cpuUsage, memUsage, nil
}

// calculateCPUPercent implements spec.md §4.1's delta-based CPU%:
// cpu_usage = (cpu_total-prev_cpu)/(system_total-prev_system) * online_cpus * 100,
// falling back to 0 whenever the deltas aren't strictly positive (no
// division by zero, spec.md §8).
func (s *Scanner) calculateCPUPercent(containerID string, stats containertypes.StatsResponse) float64 {
	cpuTotal := stats.CPUStats.CPUUsage.TotalUsage
	systemTotal := stats.CPUStats.SystemUsage

	prev, ok := s.state.CPUDelta(containerID)
	var prevCPU, prevSystem uint64
	var onlineCPUs int
	if ok {
		prevCPU, prevSystem = prev.CPUTotal, prev.SystemTotal
	} else {
		prevCPU, prevSystem = stats.PreCPUStats.CPUUsage.TotalUsage, stats.PreCPUStats.SystemUsage
	}

	onlineCPUs = int(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = s.cpuCount
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}

	s.state.SetCPUDelta(containerID, state.CPUSample{
		CPUTotal:    cpuTotal,
		SystemTotal: systemTotal,
		OnlineCPUs:  onlineCPUs,
		Read:        stats.Read,
	})

	if systemTotal > prevSystem && cpuTotal > prevCPU {
		cpuDelta := float64(cpuTotal - prevCPU)
		systemDelta := float64(systemTotal - prevSystem)
		return (cpuDelta / systemDelta) * float64(onlineCPUs) * 100
	}
	return 0
}
