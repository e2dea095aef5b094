// Package autopilot implements the atomic-recreate protocol of spec.md §4.2:
// inspect, pull, compare image digests, and, when they diverge, recreate the
// container under its current name pointing at the freshly pulled image.
package autopilot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/runtime"
	"github.com/hiveguard/node-agent/internal/scanner"
	"github.com/hiveguard/node-agent/internal/state"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// selfProtectSubstring is the literal substring that guards this agent's own
// container from an unattended recreate (spec.md §4.2 step 4, §9).
const selfProtectSubstring = "orchestrator"

// stopTimeout is the graceful-stop window before the runtime force-kills the
// container (spec.md §4.2 step 5).
const stopTimeout = 10 * time.Second

// Result is the outcome of one atomic-recreate attempt.
type Result struct {
	Service             string `json:"service"`
	Updated             bool   `json:"updated"`
	NoChange            bool   `json:"no_change"`
	SelfUpdatePrevented bool   `json:"self_update_prevented"`
	NewImageID          string `json:"new_image_id,omitempty"`
	Error               string `json:"error,omitempty"`
}

// AutoPilot runs the per-service update protocol, serializing concurrent
// attempts against the same service name.
type AutoPilot struct {
	runtime runtime.ContainerRuntime
	state   *state.State
	bus     *bus.Bus
	logger  zerolog.Logger

	inflight singleflight.Group
}

// New creates an AutoPilot.
func New(rt runtime.ContainerRuntime, st *state.State, b *bus.Bus, logger zerolog.Logger) *AutoPilot {
	return &AutoPilot{runtime: rt, state: st, bus: b, logger: logger.With().Str("component", "autopilot").Logger()}
}

// RunEligible is called whenever the Scanner raises do_update_check
// (spec.md §4.2 Trigger). It fires one recreate attempt per auto-pilot
// enabled service, fire-and-forget from the caller's perspective.
func (a *AutoPilot) RunEligible(ctx context.Context, sc *scanner.Scanner) {
	if !sc.TakeUpdateCheck() {
		return
	}
	for _, name := range a.state.AutoPilotNames() {
		go func(name string) {
			result := a.Update(ctx, name)
			a.logResult(result)
		}(name)
	}
}

// Update runs the atomic-recreate protocol for a single service. At most one
// attempt per service name is ever in flight: concurrent callers for the same
// name share the in-flight attempt's result (spec.md §4.2 Concurrency).
func (a *AutoPilot) Update(ctx context.Context, name string) Result {
	v, _, _ := a.inflight.Do(name, func() (any, error) {
		return a.update(ctx, name), nil
	})
	return v.(Result)
}

// ForceUpdate runs the same protocol regardless of the service's auto-pilot
// flag (spec.md §6.2 POST /api/update). The NoChange short-circuit still
// applies: an up-to-date image reports success without recreating.
func (a *AutoPilot) ForceUpdate(ctx context.Context, name string) Result {
	return a.Update(ctx, name)
}

func (a *AutoPilot) update(ctx context.Context, name string) Result {
	result := Result{Service: name}

	svc, ok := a.state.Service(name)
	if !ok {
		result.Error = domain.ErrNotFound.Error()
		return result
	}

	inspect, err := a.runtime.ContainerInspect(ctx, svc.ShortID)
	if err != nil {
		result.Error = fmt.Errorf("%w: %v", domain.ErrNotFound, err).Error()
		return result
	}
	if inspect.ContainerJSONBase == nil || inspect.Config == nil {
		result.Error = domain.ErrNotFound.Error()
		return result
	}
	currentImageID := inspect.ContainerJSONBase.Image
	imageRef := inspect.Config.Image

	rc, err := a.runtime.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		result.Error = fmt.Errorf("%w: %v", domain.ErrRegistry, err).Error()
		a.publishAlert(domain.AlertError, domain.AlertCodeRegistryError, name, result.Error)
		return result
	}
	_, copyErr := io.Copy(io.Discard, rc)
	closeErr := rc.Close()
	if copyErr != nil || closeErr != nil {
		result.Error = fmt.Errorf("%w: stream error", domain.ErrRegistry).Error()
		a.publishAlert(domain.AlertError, domain.AlertCodeRegistryError, name, result.Error)
		return result
	}

	pulledImage, err := a.runtime.ImageInspect(ctx, imageRef)
	if err != nil {
		result.Error = fmt.Errorf("%w: %v", domain.ErrRegistry, err).Error()
		return result
	}
	result.NewImageID = pulledImage.ID

	if pulledImage.ID == currentImageID {
		result.NoChange = true
		return result
	}

	if strings.Contains(name, selfProtectSubstring) {
		result.Updated = true
		result.SelfUpdatePrevented = true
		a.publishAlert(domain.AlertWarn, domain.AlertCodeSelfUpdatePrevented, name,
			fmt.Sprintf("auto-pilot update for %q skipped: self-protection guard", name))
		return result
	}

	if err := a.recreate(ctx, svc.ShortID, name, inspect); err != nil {
		result.Error = err.Error()
		a.publishAlert(domain.AlertError, domain.AlertCodeRecreateFailed, name, result.Error)
		return result
	}

	result.Updated = true
	return result
}

// recreate implements spec.md §4.2 step 5: stop (10s, ignore errors),
// remove (force, ignore errors), create, start. No rollback is attempted if
// create or start fails (spec.md §9 "No rollback on fatal recreate").
func (a *AutoPilot) recreate(ctx context.Context, containerID, name string, inspect containertypes.InspectResponse) error {
	timeoutSecs := int(stopTimeout.Seconds())
	_ = a.runtime.ContainerStop(ctx, containerID, containertypes.StopOptions{Timeout: &timeoutSecs})
	_ = a.runtime.ContainerRemove(ctx, containerID, containertypes.RemoveOptions{Force: true})

	created, err := a.runtime.ContainerCreate(ctx, inspect.Config, inspect.HostConfig, networkingConfigFrom(inspect), nil, name)
	if err != nil {
		return fmt.Errorf("%w: create: %v", domain.ErrRecreate, err)
	}
	if err := a.runtime.ContainerStart(ctx, created.ID, containertypes.StartOptions{}); err != nil {
		return fmt.Errorf("%w: start: %v", domain.ErrRecreate, err)
	}
	return nil
}

// networkingConfigFrom carries over the captured network attachments so the
// recreated container keeps its original endpoint aliases (spec.md §4.2
// step 1 "plus ... networks").
func networkingConfigFrom(inspect containertypes.InspectResponse) *network.NetworkingConfig {
	if inspect.NetworkSettings == nil || len(inspect.NetworkSettings.Networks) == 0 {
		return nil
	}
	return &network.NetworkingConfig{EndpointsConfig: inspect.NetworkSettings.Networks}
}

func (a *AutoPilot) publishAlert(severity domain.AlertSeverity, code domain.AlertCode, service, message string) {
	if severity == domain.AlertWarn {
		a.logger.Warn().Str("service", service).Str("code", string(code)).Msg(message)
	} else {
		a.logger.Error().Str("service", service).Str("code", string(code)).Msg(message)
	}
	a.bus.Publish(domain.Event{Type: domain.EventAlert, Data: domain.AlertPayload{
		Severity: severity,
		Code:     code,
		Service:  service,
		Message:  message,
	}})
}

func (a *AutoPilot) logResult(r Result) {
	switch {
	case r.Error != "":
		a.logger.Error().Str("service", r.Service).Str("error", r.Error).Msg("auto-pilot update failed")
	case r.SelfUpdatePrevented:
		a.logger.Warn().Str("service", r.Service).Msg("self-update prevented")
	case r.NoChange:
		a.logger.Debug().Str("service", r.Service).Msg("auto-pilot: already up to date")
	case r.Updated:
		a.logger.Info().Str("service", r.Service).Str("new_image_id", r.NewImageID).Msg("auto-pilot recreated container")
	}
}
