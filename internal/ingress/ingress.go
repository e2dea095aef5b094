// Package ingress implements the MASTER-mode inbound report handler of
// spec.md §4.5 and the node-liveness watchdog of spec.md §4.6.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/rs/zerolog"
)

// offlineThreshold is the staleness window after which a node is considered
// OFFLINE (spec.md §4.6).
const offlineThreshold = 30 * time.Second

// Ingress owns the inbound report endpoint and the liveness watchdog.
type Ingress struct {
	state  *state.State
	bus    *bus.Bus
	logger zerolog.Logger
}

// New creates an Ingress.
func New(st *state.State, b *bus.Bus, logger zerolog.Logger) *Ingress {
	return &Ingress{state: st, bus: b, logger: logger.With().Str("component", "ingress").Logger()}
}

// Handler returns the /api/ingest/report HTTP handler (spec.md §4.5). A
// report's liveness is always ONLINE on arrival; the watchdog is the only
// path that ever demotes it.
func (i *Ingress) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report domain.ClusterReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			http.Error(w, "malformed cluster report", http.StatusBadRequest)
			return
		}
		if report.Node == "" {
			http.Error(w, "cluster report missing node name", http.StatusBadRequest)
			return
		}

		report.Stats.Status = domain.NodeOnline
		i.state.UpsertClusterReport(report)
		i.bus.Publish(domain.Event{Type: domain.EventClusterUpdate, Data: i.state.ClusterReports()})
		w.WriteHeader(http.StatusOK)
	})
}

// RunWatchdog ticks the 10-second liveness cadence until ctx is cancelled.
func (i *Ingress) RunWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Sweep(time.Now())
		}
	}
}

// Sweep applies spec.md §4.6's transitions against the cluster cache as of
// now, publishing nodes_list_update exactly when at least one node's status
// changed. Entries are never deleted, only flipped in place.
func (i *Ingress) Sweep(now time.Time) {
	changed := false
	for _, report := range i.state.ClusterReports() {
		if report.Stats.Status == domain.NodeOnline && now.Sub(report.Stats.LastSeen) > offlineThreshold {
			if i.state.MarkNodeStatus(report.Node, domain.NodeOffline) {
				changed = true
				i.logger.Warn().Str("node", report.Node).Msg("node marked offline")
			}
		}
	}
	if changed {
		i.bus.Publish(domain.Event{Type: domain.EventNodesListUpdate, Data: i.state.ClusterReports()})
	}
}
