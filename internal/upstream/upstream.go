// Package upstream implements the Upstream Reporter of spec.md §4.4: in EDGE
// mode, snapshot local state and POST a ClusterReport to the orchestrator
// every tick, never backing off on failure.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/rs/zerolog"
)

const (
	apiTokenHeader      = "X-API-Token"
	authorizationHeader = "Authorization"
	bearerTokenPrefix   = "Bearer "
	requestTimeout      = 5 * time.Second
)

// Config configures a Reporter.
type Config struct {
	URL      string
	APIToken string
}

// Reporter periodically POSTs this node's ClusterReport upstream.
type Reporter struct {
	cfg    Config
	state  *state.State
	client *http.Client
	logger zerolog.Logger
}

// New creates a Reporter. The transport mirrors the teacher's self-update
// client: a bounded per-request timeout and TLS 1.2 as the floor.
func New(cfg Config, st *state.State, logger zerolog.Logger) *Reporter {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Reporter{
		cfg:   cfg,
		state: st,
		client: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		logger: logger.With().Str("component", "upstream").Logger(),
	}
}

// Run ticks Report every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("failed to report upstream; next tick will retry")
			}
		}
	}
}

// Report builds and POSTs one ClusterReport snapshot (spec.md §4.4 steps 1-2).
// Failures are never retried within the same tick (spec.md §4.4 step 3).
func (r *Reporter) Report(ctx context.Context) error {
	report := domain.ClusterReport{
		Node:      r.state.NodeName(),
		Stats:     r.state.NodeStats(),
		Services:  r.state.Services(),
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode cluster report: %w", err)
	}

	endpoint := r.cfg.URL + "/api/ingest/report"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	r.setAuthHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Reporter) setAuthHeaders(req *http.Request) {
	if r.cfg.APIToken != "" {
		req.Header.Set(apiTokenHeader, r.cfg.APIToken)
		req.Header.Set(authorizationHeader, bearerTokenPrefix+r.cfg.APIToken)
	}
}
