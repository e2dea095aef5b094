package runtime

import (
	"context"
	"errors"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	swarmtypes "github.com/docker/docker/api/types/system"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Fake is a test double for ContainerRuntime, one field per method,
// defaulting to "unexpected call" errors when unset. It lives in a _test.go
// file, so only this package's tests can use it; the other packages' test
// suites each declare their own fake.
type Fake struct {
	InfoFn                  func(ctx context.Context) (swarmtypes.Info, error)
	ContainerListFn         func(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	ContainerInspectFn      func(ctx context.Context, id string) (container.InspectResponse, error)
	ImageInspectFn          func(ctx context.Context, ref string) (image.InspectResponse, error)
	ContainerStatsOneShotFn func(ctx context.Context, id string) (container.StatsResponseReader, error)
	ContainerLogsFn         func(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error)
	ImagePullFn             func(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerStopFn         func(ctx context.Context, id string, opts container.StopOptions) error
	ContainerRemoveFn       func(ctx context.Context, id string, opts container.RemoveOptions) error
	ContainerCreateFn       func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStartFn        func(ctx context.Context, id string, opts container.StartOptions) error
	ContainersPruneFn       func(ctx context.Context) (container.PruneReport, error)
	ImagesPruneFn           func(ctx context.Context) (image.PruneReport, error)
	CloseFn                 func() error
}

func (f *Fake) Info(ctx context.Context) (swarmtypes.Info, error) {
	if f.InfoFn == nil {
		return swarmtypes.Info{}, errors.New("unexpected Info call")
	}
	return f.InfoFn(ctx)
}

func (f *Fake) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	if f.ContainerListFn == nil {
		return nil, errors.New("unexpected ContainerList call")
	}
	return f.ContainerListFn(ctx, opts)
}

func (f *Fake) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	if f.ContainerInspectFn == nil {
		return container.InspectResponse{}, errors.New("unexpected ContainerInspect call")
	}
	return f.ContainerInspectFn(ctx, id)
}

func (f *Fake) ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error) {
	if f.ImageInspectFn == nil {
		return image.InspectResponse{}, errors.New("unexpected ImageInspect call")
	}
	return f.ImageInspectFn(ctx, ref)
}

func (f *Fake) ContainerStatsOneShot(ctx context.Context, id string) (container.StatsResponseReader, error) {
	if f.ContainerStatsOneShotFn == nil {
		return container.StatsResponseReader{}, errors.New("unexpected ContainerStatsOneShot call")
	}
	return f.ContainerStatsOneShotFn(ctx, id)
}

func (f *Fake) ContainerLogs(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
	if f.ContainerLogsFn == nil {
		return nil, errors.New("unexpected ContainerLogs call")
	}
	return f.ContainerLogsFn(ctx, id, opts)
}

func (f *Fake) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	if f.ImagePullFn == nil {
		return nil, errors.New("unexpected ImagePull call")
	}
	return f.ImagePullFn(ctx, ref, opts)
}

func (f *Fake) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	if f.ContainerStopFn == nil {
		return errors.New("unexpected ContainerStop call")
	}
	return f.ContainerStopFn(ctx, id, opts)
}

func (f *Fake) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	if f.ContainerRemoveFn == nil {
		return errors.New("unexpected ContainerRemove call")
	}
	return f.ContainerRemoveFn(ctx, id, opts)
}

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error) {
	if f.ContainerCreateFn == nil {
		return container.CreateResponse{}, errors.New("unexpected ContainerCreate call")
	}
	return f.ContainerCreateFn(ctx, config, hostConfig, networkingConfig, platform, containerName)
}

func (f *Fake) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	if f.ContainerStartFn == nil {
		return errors.New("unexpected ContainerStart call")
	}
	return f.ContainerStartFn(ctx, id, opts)
}

func (f *Fake) ContainersPrune(ctx context.Context) (container.PruneReport, error) {
	if f.ContainersPruneFn == nil {
		return container.PruneReport{}, errors.New("unexpected ContainersPrune call")
	}
	return f.ContainersPruneFn(ctx)
}

func (f *Fake) ImagesPrune(ctx context.Context) (image.PruneReport, error) {
	if f.ImagesPruneFn == nil {
		return image.PruneReport{}, errors.New("unexpected ImagesPrune call")
	}
	return f.ImagesPruneFn(ctx)
}

func (f *Fake) Close() error {
	if f.CloseFn == nil {
		return nil
	}
	return f.CloseFn()
}

var _ ContainerRuntime = (*Fake)(nil)
