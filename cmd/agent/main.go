// Command agent is the node-agent entrypoint (spec.md §6.1-6.2): it loads
// configuration, connects to the container runtime, wires the supervision
// kernel's control loops, and serves the HTTP/WebSocket façade until
// signaled to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hiveguard/node-agent/internal/apiserver"
	"github.com/hiveguard/node-agent/internal/autopilot"
	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/config"
	"github.com/hiveguard/node-agent/internal/hostmonitor"
	"github.com/hiveguard/node-agent/internal/ingress"
	"github.com/hiveguard/node-agent/internal/logmux"
	"github.com/hiveguard/node-agent/internal/metrics"
	"github.com/hiveguard/node-agent/internal/probe"
	"github.com/hiveguard/node-agent/internal/runtime"
	"github.com/hiveguard/node-agent/internal/scanner"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/hiveguard/node-agent/internal/upstream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Version is stamped at build time (-ldflags "-X main.Version=...").
var Version = "dev"

const watchdogInterval = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "node-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	mode := cfg.Mode()

	rt, err := runtime.New(cfg.DockerSocket)
	if err != nil {
		return fmt.Errorf("connect container runtime: %w", err)
	}
	if _, err := rt.Info(ctx); err != nil {
		return fmt.Errorf("container runtime unreachable at %s: %w", cfg.DockerSocket, err)
	}
	defer rt.Close()

	st := state.New(cfg.NodeName, cfg.AutoPilotServices)
	b := bus.New(512)
	met := metrics.New()
	met.AgentInfo.WithLabelValues(Version, mode, cfg.NodeName).Set(1)
	b.OnDrop(func(int) { met.BusDrops.Inc() })

	sysProbe := probe.New(probe.NvidiaSMI)

	sc := scanner.New(rt, st, b, logger, scanner.Config{
		NodeName:         cfg.NodeName,
		GPUNameHints:     cfg.GPUNameHints,
		ScanStates:       cfg.ScanStates,
		UpdateCheckTicks: cfg.UpdateCheckTicks,
	})
	pilot := autopilot.New(rt, st, b, logger)
	hm := hostmonitor.New(sysProbe, st, b, logger)

	var ing *ingress.Ingress
	if mode == "MASTER" {
		ing = ingress.New(st, b, logger)
	}

	var reporter *upstream.Reporter
	if mode == "EDGE" {
		reporter = upstream.New(upstream.Config{
			URL: cfg.UpstreamURL,
		}, st, logger)
	}

	lmux := logmux.New(rt, logger)
	api := apiserver.New(st, b, rt, pilot, ing, lmux, mode, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler: api.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sc.Run(ctx, cfg.PollInterval)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				met.ScanTicks.Inc()
				met.NodesCached.Set(float64(len(st.ClusterReports())))
				pilot.RunEligible(ctx, sc)
			}
		}
	})

	g.Go(func() error {
		hm.Run(ctx, cfg.HostMonitorPeriod)
		return nil
	})

	if mode == "MASTER" {
		g.Go(func() error {
			ing.RunWatchdog(ctx, watchdogInterval)
			return nil
		})
	}

	if mode == "EDGE" {
		g.Go(func() error {
			reporter.Run(ctx, 10*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		met.NodesCached.Set(float64(len(st.ClusterReports())))
		logger.Info().
			Str("version", Version).
			Str("mode", mode).
			Str("node_name", cfg.NodeName).
			Str("addr", srv.Addr).
			Msg("node-agent starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("node-agent stopped")
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	var writer = os.Stdout
	if cfg.LogFormat == "text" || cfg.Env != "production" {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp().Str("node", cfg.NodeName).Logger()
	}
	return zerolog.New(writer).With().Timestamp().Str("node", cfg.NodeName).Logger()
}
