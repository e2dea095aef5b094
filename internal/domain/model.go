// Package domain holds the shared data model of the supervision kernel:
// ServiceInstance, NodeStats, ClusterReport, and the Bus event envelope.
package domain

import (
	"strings"
	"time"
)

// NodeStatus is the liveness state of a node in the cluster cache.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "ONLINE"
	NodeOffline NodeStatus = "OFFLINE"
)

// ServiceInstance is one locally observed container.
type ServiceInstance struct {
	Name      string  `json:"name"`
	ShortID   string  `json:"short_id"`
	Image     string  `json:"image"`
	Status    string  `json:"status"`
	AutoPilot bool    `json:"auto_pilot"`
	HasGPU    bool    `json:"has_gpu"`
	CPUUsage  float64 `json:"cpu_usage"`
	MemUsage  int64   `json:"mem_usage"`
	Node      string  `json:"node"`
}

// NodeStats is one agent's host-level metrics.
type NodeStats struct {
	Name         string     `json:"name"`
	CPUUsage     float64    `json:"cpu_usage"`
	RAMUsed      int64      `json:"ram_used"`
	RAMTotal     int64      `json:"ram_total"`
	GPUUsage     float64    `json:"gpu_usage"`
	GPUMemUsed   int64      `json:"gpu_mem_used"`
	GPUMemTotal  int64      `json:"gpu_mem_total"`
	LastSeen     time.Time  `json:"last_seen"`
	Status       NodeStatus `json:"status"`
}

// ClusterReport is one agent's consolidated state, as seen by a MASTER.
type ClusterReport struct {
	Node      string            `json:"node"`
	Stats     NodeStats         `json:"stats"`
	Services  []ServiceInstance `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

// ShortID derives the 12-hex-char short identifier from a container ID. If the
// ID is shorter than 12 characters, the whole ID is returned (§8 boundary
// behavior). short_id is always derived from the container ID, never the
// image ID (spec.md §9).
func ShortID(containerID string) string {
	if len(containerID) <= 12 {
		return containerID
	}
	return containerID[:12]
}

// NormalizeName strips a single leading '/' from a raw container name, the
// way the Docker API reports names. Returns "" if the normalized name is
// empty, signaling the caller to skip the container.
func NormalizeName(rawName string) string {
	if strings.HasPrefix(rawName, "/") {
		rawName = rawName[1:]
	}
	return rawName
}

// DefaultGPUNameHints is the spec's seven-substring GPU-detection heuristic
// (§4.1, Design Notes §9). Configurable via GPU_NAME_HINTS; this is only the
// default.
var DefaultGPUNameHints = []string{"llm", "ocr", "cuda", "diffusion", "media", "stt", "tts"}

// HasGPUHeuristic reports whether name contains any of hints, case-insensitively.
func HasGPUHeuristic(name string, hints []string) bool {
	lower := strings.ToLower(name)
	for _, hint := range hints {
		if hint == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// IsRunningStatus reports whether a Docker-style status string describes a
// running container (case-insensitive "up" substring per spec.md §4.1).
func IsRunningStatus(status string) bool {
	return strings.Contains(strings.ToLower(status), "up")
}
