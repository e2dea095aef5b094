// Package runtime adapts the Docker Engine API (github.com/docker/docker) to
// the ContainerRuntime contract the supervision kernel depends on. Its
// method set mirrors the fake test double used throughout the teacher's own
// docker-agent test suite: one method per runtime primitive the kernel
// needs, nothing more.
package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	swarmtypes "github.com/docker/docker/api/types/system"
	dockerclient "github.com/docker/docker/client"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerRuntime is the external collaborator spec.md §6 fixes the
// contract of: list, inspect, stop, remove, create, start, pull, stats,
// logs, prune.
type ContainerRuntime interface {
	Info(ctx context.Context) (swarmtypes.Info, error)
	ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error)
	ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error)
	ContainerStatsOneShot(ctx context.Context, id string) (container.StatsResponseReader, error)
	ContainerLogs(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, id string, opts container.StopOptions) error
	ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, opts container.StartOptions) error
	ContainersPrune(ctx context.Context) (container.PruneReport, error)
	ImagesPrune(ctx context.Context) (image.PruneReport, error)
	Close() error
}

// dockerRuntime wraps *dockerclient.Client to satisfy ContainerRuntime.
type dockerRuntime struct {
	cli *dockerclient.Client
}

// New connects to the Docker daemon at socketPath (spec.md §6.1
// DOCKER_SOCKET). A failing connection at startup is fatal, per spec.md §6.2.
func New(socketPath string) (ContainerRuntime, error) {
	host := "unix://" + socketPath
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost(host),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to docker runtime at %s: %w", socketPath, err)
	}
	return &dockerRuntime{cli: cli}, nil
}

func (d *dockerRuntime) Info(ctx context.Context) (swarmtypes.Info, error) {
	return d.cli.Info(ctx)
}

func (d *dockerRuntime) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return d.cli.ContainerList(ctx, opts)
}

func (d *dockerRuntime) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	return d.cli.ContainerInspect(ctx, id)
}

func (d *dockerRuntime) ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error) {
	return d.cli.ImageInspect(ctx, ref)
}

func (d *dockerRuntime) ContainerStatsOneShot(ctx context.Context, id string) (container.StatsResponseReader, error) {
	return d.cli.ContainerStatsOneShot(ctx, id)
}

func (d *dockerRuntime) ContainerLogs(ctx context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
	return d.cli.ContainerLogs(ctx, id, opts)
}

func (d *dockerRuntime) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	return d.cli.ImagePull(ctx, ref, opts)
}

func (d *dockerRuntime) ContainerStop(ctx context.Context, id string, opts container.StopOptions) error {
	return d.cli.ContainerStop(ctx, id, opts)
}

func (d *dockerRuntime) ContainerRemove(ctx context.Context, id string, opts container.RemoveOptions) error {
	return d.cli.ContainerRemove(ctx, id, opts)
}

func (d *dockerRuntime) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error) {
	return d.cli.ContainerCreate(ctx, config, hostConfig, networkingConfig, platform, containerName)
}

func (d *dockerRuntime) ContainerStart(ctx context.Context, id string, opts container.StartOptions) error {
	return d.cli.ContainerStart(ctx, id, opts)
}

func (d *dockerRuntime) ContainersPrune(ctx context.Context) (container.PruneReport, error) {
	return d.cli.ContainersPrune(ctx, filtersArgs())
}

func (d *dockerRuntime) ImagesPrune(ctx context.Context) (image.PruneReport, error) {
	return d.cli.ImagesPrune(ctx, filtersArgs())
}

func (d *dockerRuntime) Close() error {
	return d.cli.Close()
}
