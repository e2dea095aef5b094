package logmux

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	swarmtypes "github.com/docker/docker/api/types/system"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

type fakeRuntime struct {
	logsFn func(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error)
}

func (f *fakeRuntime) Info(ctx context.Context) (swarmtypes.Info, error) { return swarmtypes.Info{}, nil }
func (f *fakeRuntime) ContainerList(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
	return nil, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerInspect(ctx context.Context, id string) (containertypes.InspectResponse, error) {
	return containertypes.InspectResponse{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error) {
	return image.InspectResponse{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerStatsOneShot(ctx context.Context, id string) (containertypes.StatsResponseReader, error) {
	return containertypes.StatsResponseReader{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerLogs(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error) {
	return f.logsFn(ctx, id, opts)
}
func (f *fakeRuntime) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	return nil, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerStop(ctx context.Context, id string, opts containertypes.StopOptions) error {
	return errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerRemove(ctx context.Context, id string, opts containertypes.RemoveOptions) error {
	return errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, netCfg *network.NetworkingConfig, platform *v1.Platform, name string) (containertypes.CreateResponse, error) {
	return containertypes.CreateResponse{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerStart(ctx context.Context, id string, opts containertypes.StartOptions) error {
	return errors.New("unexpected call")
}
func (f *fakeRuntime) ContainersPrune(ctx context.Context) (containertypes.PruneReport, error) {
	return containertypes.PruneReport{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ImagesPrune(ctx context.Context) (image.PruneReport, error) {
	return image.PruneReport{}, errors.New("unexpected call")
}
func (f *fakeRuntime) Close() error { return nil }

func TestStreamForwardsLinesAndClosesChannel(t *testing.T) {
	rt := &fakeRuntime{
		logsFn: func(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error) {
			if !opts.Follow {
				t.Fatal("expected follow-mode log request")
			}
			if opts.Tail != backlogLines {
				t.Fatalf("expected backlog tail of %q, got %q", backlogLines, opts.Tail)
			}
			return io.NopCloser(strings.NewReader("line one\nline two\n")), nil
		},
	}
	mux := New(rt, zerolog.Nop())

	lines := make(chan string, 4)
	err := mux.Stream(context.Background(), "c1", lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("expected both lines forwarded, got %v", got)
	}
}

func TestStreamReturnsErrorOnRuntimeFailure(t *testing.T) {
	rt := &fakeRuntime{
		logsFn: func(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error) {
			return nil, errors.New("no such container")
		},
	}
	mux := New(rt, zerolog.Nop())

	lines := make(chan string, 4)
	if err := mux.Stream(context.Background(), "missing", lines); err == nil {
		t.Fatal("expected an error when the runtime cannot open a log stream")
	}

	if _, open := <-lines; open {
		t.Fatal("expected the lines channel to be closed even on error")
	}
}

func TestStreamStopsOnSubscriberDisconnect(t *testing.T) {
	rt := &fakeRuntime{
		logsFn: func(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(strings.Repeat("x\n", 1000))), nil
		},
	}
	mux := New(rt, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string) // unbuffered: forces Stream to block on send
	cancel()

	done := make(chan error, 1)
	go func() { done <- mux.Stream(ctx, "c1", lines) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation to surface as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stream to return promptly on subscriber disconnect")
	}
}
