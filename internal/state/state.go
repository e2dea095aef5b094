// Package state holds the single in-memory aggregate shared by every control
// loop (spec.md §3). Each field is guarded by its own mutex; no lock ever
// nests inside another, and all I/O happens on snapshots taken after the
// lock is released (spec.md §5).
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/hiveguard/node-agent/internal/domain"
)

// CPUSample is the previous (cpu_total, system_total) pair recorded for a
// container ID, used by the Scanner to compute a delta-based CPU percentage
// (spec.md §3 "CPU Delta Cache").
type CPUSample struct {
	CPUTotal    uint64
	SystemTotal uint64
	OnlineCPUs  int
	Read        time.Time
}

// State is the agent's single shared aggregate. It is exclusively owned by
// the agent process (spec.md §3 Ownership).
type State struct {
	nodeName string

	servicesMu sync.RWMutex
	services   map[string]domain.ServiceInstance

	nodeStatsMu sync.RWMutex
	nodeStats   domain.NodeStats

	autoPilotMu sync.RWMutex
	autoPilot   map[string]bool

	cpuDeltaMu sync.Mutex
	cpuDelta   map[string]CPUSample

	clusterMu sync.RWMutex
	cluster   map[string]domain.ClusterReport
}

// New creates an empty State for the given node name, seeding the
// Auto-Pilot Map from the configured startup service list (spec.md §3).
func New(nodeName string, autoPilotSeed []string) *State {
	autoPilot := make(map[string]bool, len(autoPilotSeed))
	for _, name := range autoPilotSeed {
		autoPilot[name] = true
	}
	return &State{
		nodeName:  nodeName,
		services:  make(map[string]domain.ServiceInstance),
		autoPilot: autoPilot,
		cpuDelta:  make(map[string]CPUSample),
		cluster:   make(map[string]domain.ClusterReport),
	}
}

// NodeName returns the configured identity of this agent.
func (s *State) NodeName() string { return s.nodeName }

// ReplaceServices atomically swaps the entire services_cache, replacing all
// entries (never merging, so containers that disappeared from the most
// recent scan are dropped -- spec.md Design Notes §9).
func (s *State) ReplaceServices(services map[string]domain.ServiceInstance) {
	s.servicesMu.Lock()
	s.services = services
	s.servicesMu.Unlock()
}

// Services returns a snapshot slice of the current services_cache, sorted by
// name for stable output across callers (map iteration order is otherwise
// randomized).
func (s *State) Services() []domain.ServiceInstance {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()

	out := make([]domain.ServiceInstance, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Service looks up a single service by name.
func (s *State) Service(name string) (domain.ServiceInstance, bool) {
	s.servicesMu.RLock()
	defer s.servicesMu.RUnlock()
	svc, ok := s.services[name]
	return svc, ok
}

// SetNodeStats overwrites the local node's NodeStats (spec.md §4.3 step 3).
func (s *State) SetNodeStats(stats domain.NodeStats) {
	s.nodeStatsMu.Lock()
	s.nodeStats = stats
	s.nodeStatsMu.Unlock()
}

// NodeStats returns the most recent local NodeStats snapshot.
func (s *State) NodeStats() domain.NodeStats {
	s.nodeStatsMu.RLock()
	defer s.nodeStatsMu.RUnlock()
	return s.nodeStats
}

// AutoPilotEnabled reports whether a service has auto-pilot toggled on;
// absence means disabled (spec.md §3).
func (s *State) AutoPilotEnabled(name string) bool {
	s.autoPilotMu.RLock()
	defer s.autoPilotMu.RUnlock()
	return s.autoPilot[name]
}

// SetAutoPilot sets the auto-pilot flag for a service. Idempotent: calling
// it repeatedly with the same value is a no-op observationally (spec.md §8).
func (s *State) SetAutoPilot(name string, enabled bool) {
	s.autoPilotMu.Lock()
	defer s.autoPilotMu.Unlock()
	if enabled {
		s.autoPilot[name] = true
	} else {
		delete(s.autoPilot, name)
	}
}

// AutoPilotNames returns every service name currently flagged for
// auto-pilot.
func (s *State) AutoPilotNames() []string {
	s.autoPilotMu.RLock()
	defer s.autoPilotMu.RUnlock()
	names := make([]string, 0, len(s.autoPilot))
	for name, enabled := range s.autoPilot {
		if enabled {
			names = append(names, name)
		}
	}
	return names
}

// CPUDelta returns the cached (cpu_total, system_total) pair for a container
// ID, if present.
func (s *State) CPUDelta(containerID string) (CPUSample, bool) {
	s.cpuDeltaMu.Lock()
	defer s.cpuDeltaMu.Unlock()
	sample, ok := s.cpuDelta[containerID]
	return sample, ok
}

// SetCPUDelta updates the cached CPU sample for a container ID.
func (s *State) SetCPUDelta(containerID string, sample CPUSample) {
	s.cpuDeltaMu.Lock()
	defer s.cpuDeltaMu.Unlock()
	s.cpuDelta[containerID] = sample
}

// EvictCPUDelta removes a container's cached CPU sample, done when the
// container is observed non-running (spec.md §3).
func (s *State) EvictCPUDelta(containerID string) {
	s.cpuDeltaMu.Lock()
	defer s.cpuDeltaMu.Unlock()
	delete(s.cpuDelta, containerID)
}

// UpsertClusterReport inserts or replaces a ClusterReport keyed by its node
// name (spec.md §3 "Cluster Cache").
func (s *State) UpsertClusterReport(report domain.ClusterReport) {
	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()
	s.cluster[report.Node] = report
}

// ClusterReports returns a snapshot of the entire cluster cache.
func (s *State) ClusterReports() []domain.ClusterReport {
	s.clusterMu.RLock()
	defer s.clusterMu.RUnlock()
	out := make([]domain.ClusterReport, 0, len(s.cluster))
	for _, report := range s.cluster {
		out = append(out, report)
	}
	return out
}

// ClusterReport looks up a single node's cached report.
func (s *State) ClusterReport(node string) (domain.ClusterReport, bool) {
	s.clusterMu.RLock()
	defer s.clusterMu.RUnlock()
	report, ok := s.cluster[node]
	return report, ok
}

// MarkNodeStatus overwrites a cached report's liveness status in place,
// without touching its stats or services (spec.md §4.6). It never deletes
// entries. Returns false if no report is cached for node.
func (s *State) MarkNodeStatus(node string, status domain.NodeStatus) bool {
	s.clusterMu.Lock()
	defer s.clusterMu.Unlock()
	report, ok := s.cluster[node]
	if !ok {
		return false
	}
	if report.Stats.Status == status {
		return false
	}
	report.Stats.Status = status
	s.cluster[node] = report
	return true
}
