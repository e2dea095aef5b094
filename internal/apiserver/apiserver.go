// Package apiserver implements the HTTP and WebSocket façade of spec.md
// §6.2-6.3: the read/write REST surface over the shared State, the
// force-update and prune write paths, and the two WebSocket upgrades (the
// Bus fan-out and a single container's Log Multiplexer).
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/gorilla/websocket"
	"github.com/hiveguard/node-agent/internal/autopilot"
	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/ingress"
	"github.com/hiveguard/node-agent/internal/logmux"
	"github.com/hiveguard/node-agent/internal/runtime"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return isAllowedOrigin(r)
	},
}

// Server wires the shared aggregate, the runtime, the Auto-Pilot protocol,
// the Bus, and (in MASTER mode) the ingress handler into one HTTP mux.
type Server struct {
	state    *state.State
	bus      *bus.Bus
	runtime  runtime.ContainerRuntime
	pilot    *autopilot.AutoPilot
	ingress  *ingress.Ingress
	logmux   *logmux.Multiplexer
	logger   zerolog.Logger
	nodeMode string
}

// New creates a Server. ing may be nil in EDGE mode, where
// /api/ingest/report is never mounted.
func New(st *state.State, b *bus.Bus, rt runtime.ContainerRuntime, pilot *autopilot.AutoPilot, ing *ingress.Ingress, mux *logmux.Multiplexer, mode string, logger zerolog.Logger) *Server {
	return &Server{
		state:    st,
		bus:      b,
		runtime:  rt,
		pilot:    pilot,
		ingress:  ing,
		logmux:   mux,
		nodeMode: mode,
		logger:   logger.With().Str("component", "apiserver").Logger(),
	}
}

// Router builds the full HTTP mux described in spec.md §6.2.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/service/{id}/inspect", s.handleInspect)
	mux.HandleFunc("GET /api/export/llm", s.handleExportLLM)

	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.HandleFunc("POST /api/toggle-autopilot", s.handleToggleAutoPilot)
	mux.HandleFunc("POST /api/service/{id}/start", s.handleLifecycle("start"))
	mux.HandleFunc("POST /api/service/{id}/stop", s.handleLifecycle("stop"))
	mux.HandleFunc("POST /api/service/{id}/restart", s.handleLifecycle("restart"))
	mux.HandleFunc("POST /api/system/prune", s.handlePrune)

	if s.ingress != nil {
		mux.Handle("POST /api/ingest/report", s.ingress.Handler())
	}

	mux.HandleFunc("GET /ws", s.handleBusWebSocket)
	mux.HandleFunc("GET /ws/logs/{id}", s.handleLogWebSocket)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already sent; the encode error is dropped.
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Services())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	reports := s.state.ClusterReports()
	stats := make([]domain.NodeStats, 0, len(reports))
	for _, report := range reports {
		stats = append(stats, report.Stats)
	}
	writeJSON(w, http.StatusOK, stats)
}

// resolveContainerID accepts either a service name (looked up in the
// services_cache for its short_id) or a raw container ID/name the runtime
// understands directly.
func (s *Server) resolveContainerID(id string) string {
	if svc, ok := s.state.Service(id); ok {
		return svc.ShortID
	}
	return id
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	id := s.resolveContainerID(r.PathValue("id"))
	inspect, err := s.runtime.ContainerInspect(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("inspect %s: %v", id, err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inspect)
}

func (s *Server) handleExportLLM(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(renderLLMReport(s.state.NodeName(), s.state.Services(), s.state.ClusterReports())))
}

func renderLLMReport(nodeName string, services []domain.ServiceInstance, reports []domain.ClusterReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Cluster diagnostic report for %s\n\n", nodeName)

	fmt.Fprintf(&b, "## Local services (%d)\n\n", len(services))
	for _, svc := range services {
		fmt.Fprintf(&b, "- **%s** (`%s`, image `%s`) status=%s cpu=%.1f%% mem=%dMiB auto_pilot=%t\n",
			svc.Name, svc.ShortID, svc.Image, svc.Status, svc.CPUUsage, svc.MemUsage, svc.AutoPilot)
	}

	fmt.Fprintf(&b, "\n## Cluster nodes (%d)\n\n", len(reports))
	for _, report := range reports {
		fmt.Fprintf(&b, "- **%s** status=%s cpu=%.1f%% ram=%d/%dMiB services=%d last_seen=%s\n",
			report.Node, report.Stats.Status, report.Stats.CPUUsage, report.Stats.RAMUsed, report.Stats.RAMTotal,
			len(report.Services), report.Stats.LastSeen.Format(time.RFC3339))
	}

	return b.String()
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	if service == "" {
		http.Error(w, "missing service query parameter", http.StatusBadRequest)
		return
	}
	result := s.pilot.ForceUpdate(r.Context(), service)
	if result.Error != "" {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type toggleAutoPilotRequest struct {
	Service string `json:"service"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleToggleAutoPilot(w http.ResponseWriter, r *http.Request) {
	var req toggleAutoPilotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed toggle-autopilot request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Service) == "" {
		http.Error(w, "missing service", http.StatusBadRequest)
		return
	}
	s.state.SetAutoPilot(req.Service, req.Enabled)
	writeJSON(w, http.StatusOK, toggleAutoPilotRequest{Service: req.Service, Enabled: req.Enabled})
}

// handleLifecycle returns a handler performing a direct start/stop/restart
// against the runtime, bypassing Auto-Pilot entirely (spec.md §6.2).
func (s *Server) handleLifecycle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := s.resolveContainerID(r.PathValue("id"))
		ctx := r.Context()

		var err error
		switch action {
		case "start":
			err = s.runtime.ContainerStart(ctx, id, containertypes.StartOptions{})
		case "stop":
			err = s.runtime.ContainerStop(ctx, id, containertypes.StopOptions{})
		case "restart":
			if stopErr := s.runtime.ContainerStop(ctx, id, containertypes.StopOptions{}); stopErr != nil {
				err = stopErr
				break
			}
			err = s.runtime.ContainerStart(ctx, id, containertypes.StartOptions{})
		}

		if err != nil {
			http.Error(w, fmt.Sprintf("%s %s: %v", action, id, err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"service": id, "action": action})
	}
}

// handlePrune implements spec.md §4.8 and the exact summary format fixed by
// §8 scenario 6.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	containerReport, err := s.runtime.ContainersPrune(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("container prune: %v", err), http.StatusInternalServerError)
		return
	}
	imageReport, err := s.runtime.ImagesPrune(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("image prune: %v", err), http.StatusInternalServerError)
		return
	}

	reclaimedMB := float64(containerReport.SpaceReclaimed+imageReport.SpaceReclaimed) / (1024 * 1024)
	summary := fmt.Sprintf("Deleted %d Containers, %d Images. Reclaimed %.2f MB",
		len(containerReport.ContainersDeleted), len(imageReport.ImagesDeleted), reclaimedMB)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(summary))
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	return true
}

// handleBusWebSocket upgrades the connection and forwards every Bus event as
// a JSON text frame until the client disconnects (spec.md §6.2 GET /ws).
func (s *Server) handleBusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade bus websocket")
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer sub.Close()

	go discardInboundMessages(conn)

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleLogWebSocket upgrades the connection and forwards one container's
// log lines until the client disconnects or the stream ends (spec.md §6.2
// GET /ws/logs/{id}).
func (s *Server) handleLogWebSocket(w http.ResponseWriter, r *http.Request) {
	id := s.resolveContainerID(r.PathValue("id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade log websocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go discardInboundMessages(conn)

	lines := make(chan string, 64)
	go func() {
		if err := s.logmux.Stream(ctx, id, lines); err != nil {
			s.logger.Debug().Err(err).Str("container", id).Msg("log stream ended")
		}
	}()

	for line := range lines {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
}

// discardInboundMessages drains client frames (control pongs, stray text)
// so the read side always sees a close event promptly.
func discardInboundMessages(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
