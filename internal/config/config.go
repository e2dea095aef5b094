// Package config loads the node-agent's configuration from environment
// variables (spec.md §6.1), optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/utils"
	"github.com/joho/godotenv"
)

// Config is the fully resolved agent configuration.
type Config struct {
	NodeName           string
	Host               string
	HTTPPort           int
	DockerSocket       string
	PollInterval       time.Duration
	HostMonitorPeriod  time.Duration
	UpdateCheckTicks   int
	AutoPilotServices  []string
	UpstreamURL        string
	Env                string
	LogFormat          string
	ScanStates         []string
	GPUNameHints       []string
}

// Mode reports whether the agent runs as an EDGE reporter or a MASTER
// aggregator, determined solely by whether an upstream URL is configured
// (spec.md GLOSSARY).
func (c Config) Mode() string {
	if strings.TrimSpace(c.UpstreamURL) != "" {
		return "EDGE"
	}
	return "MASTER"
}

func defaultDockerSocket() string {
	return "/var/run/docker.sock"
}

// Load resolves configuration from the environment, with a best-effort
// .env seed (ignored if absent). No command-line flags are read.
func Load() (Config, error) {
	_ = godotenv.Load()

	nodeName := utils.GetenvTrim("NODE_NAME")
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown-node"
		}
		nodeName = strings.ToUpper(hostname)
	}

	host := utils.GetenvTrim("HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	httpPort := utils.ParseIntDefault(utils.GetenvTrim("HTTP_PORT"), 11080)

	dockerSocket := utils.GetenvTrim("DOCKER_SOCKET")
	if dockerSocket == "" {
		dockerSocket = defaultDockerSocket()
	}

	pollSeconds := utils.ParseIntDefault(utils.GetenvTrim("POLL_INTERVAL"), 60)
	if pollSeconds <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %d", pollSeconds)
	}

	autoPilotServices := utils.SplitList(utils.GetenvTrim("AUTO_PILOT_SERVICES"))

	env := utils.GetenvTrim("ENV")
	if env == "" {
		env = "production"
	}

	logFormat := utils.GetenvTrim("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	gpuHints := utils.SplitList(utils.GetenvTrim("GPU_NAME_HINTS"))
	if len(gpuHints) == 0 {
		gpuHints = domain.DefaultGPUNameHints
	}

	return Config{
		NodeName:          nodeName,
		Host:              host,
		HTTPPort:          httpPort,
		DockerSocket:      dockerSocket,
		PollInterval:      time.Duration(pollSeconds) * time.Second,
		HostMonitorPeriod: 3 * time.Second,
		UpdateCheckTicks:  12,
		AutoPilotServices: autoPilotServices,
		UpstreamURL:       utils.GetenvTrim("UPSTREAM_ORCHESTRATOR_URL"),
		Env:               env,
		LogFormat:         logFormat,
		ScanStates:        utils.SplitList(utils.GetenvTrim("SCAN_STATES")),
		GPUNameHints:      gpuHints,
	}, nil
}
