// Package logmux implements the Log Multiplexer of spec.md §4.7: a
// follow-mode log stream against a single container, forwarded to one
// subscriber at a time.
package logmux

import (
	"bufio"
	"context"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/hiveguard/node-agent/internal/runtime"
	"github.com/rs/zerolog"
)

// backlogLines is how much history the stream opens with before switching to
// follow mode (spec.md §4.7: "last 100-200 lines of backlog").
const backlogLines = "150"

// Multiplexer streams one container's logs to a single subscriber.
type Multiplexer struct {
	runtime runtime.ContainerRuntime
	logger  zerolog.Logger
}

// New creates a Multiplexer.
func New(rt runtime.ContainerRuntime, logger zerolog.Logger) *Multiplexer {
	return &Multiplexer{runtime: rt, logger: logger.With().Str("component", "logmux").Logger()}
}

// Stream opens a follow-mode log stream for containerID and forwards each
// line to lines until ctx is cancelled (subscriber disconnect) or the
// runtime stream errors. lines is always closed on return.
func (m *Multiplexer) Stream(ctx context.Context, containerID string, lines chan<- string) error {
	defer close(lines)

	rc, err := m.runtime.ContainerLogs(ctx, containerID, containertypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       backlogLines,
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lines <- scanner.Text():
		}
	}
	return scanner.Err()
}
