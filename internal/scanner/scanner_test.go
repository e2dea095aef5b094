package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	swarmtypes "github.com/docker/docker/api/types/system"
	"github.com/hiveguard/node-agent/internal/bus"
	"github.com/hiveguard/node-agent/internal/domain"
	"github.com/hiveguard/node-agent/internal/state"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// fakeRuntime is a minimal per-package test double, in the style of
// internal/dockeragent/test_helpers_test.go's fakeDockerClient.
type fakeRuntime struct {
	listFn  func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error)
	statsFn func(ctx context.Context, id string) (containertypes.StatsResponseReader, error)
}

func (f *fakeRuntime) Info(ctx context.Context) (swarmtypes.Info, error) { return swarmtypes.Info{}, nil }
func (f *fakeRuntime) ContainerList(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
	return f.listFn(ctx, opts)
}
func (f *fakeRuntime) ContainerInspect(ctx context.Context, id string) (containertypes.InspectResponse, error) {
	return containertypes.InspectResponse{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ImageInspect(ctx context.Context, ref string) (image.InspectResponse, error) {
	return image.InspectResponse{}, errors.New("unexpected call")
}
func (f *fakeRuntime) ContainerStatsOneShot(ctx context.Context, id string) (containertypes.StatsResponseReader, error) {
	return f.statsFn(ctx, id)
}
func (f *fakeRuntime) ContainerLogs(ctx context.Context, id string, opts containertypes.LogsOptions) (io.ReadCloser, error) {
	return nil, errors.New("unexpected call")
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
func (f *fakeRuntime) ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (containertypes.CreateResponse, error) {
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

func statsReader(t *testing.T, stats containertypes.StatsResponse) containertypes.StatsResponseReader {
	t.Helper()
	payload, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	return containertypes.StatsResponseReader{Body: io.NopCloser(bytes.NewReader(payload))}
}

func newTestScanner(rt *fakeRuntime) (*Scanner, *state.State, *bus.Bus) {
	st := state.New("NODE-A", nil)
	b := bus.New(8)
	sc := New(rt, st, b, zerolog.Nop(), Config{NodeName: "NODE-A", UpdateCheckTicks: 2})
	return sc, st, b
}

func TestScanReplacesServicesAndStripsSlash(t *testing.T) {
	rt := &fakeRuntime{
		listFn: func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
			return []containertypes.Summary{
				{ID: "deadbeefcafefeed0000", Names: []string{"/web"}, Image: "nginx:latest", Status: "Exited (0) 2 hours ago"},
			}, nil
		},
	}
	sc, st, b := newTestScanner(rt)
	sub := b.Subscribe()
	defer sub.Close()

	if err := sc.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	services := st.Services()
	if len(services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(services))
	}
	if services[0].Name != "web" {
		t.Fatalf("expected normalized name 'web', got %q", services[0].Name)
	}
	if services[0].ShortID != "deadbeefcafe" {
		t.Fatalf("expected 12-char short id, got %q", services[0].ShortID)
	}
	if services[0].CPUUsage != 0 || services[0].MemUsage != 0 {
		t.Fatalf("expected zero metrics for a non-running container, got %+v", services[0])
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != domain.EventServicesUpdate {
			t.Fatalf("expected services_update event, got %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for services_update")
	}
}

func TestScanSkipsEmptyNormalizedName(t *testing.T) {
	rt := &fakeRuntime{
		listFn: func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
			return []containertypes.Summary{{ID: "abc123", Names: []string{"/"}, Status: "Up 1 second"}}, nil
		},
	}
	sc, st, _ := newTestScanner(rt)
	if err := sc.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(st.Services()) != 0 {
		t.Fatalf("expected container with empty normalized name to be skipped")
	}
}

func TestScanReplaceNotMerge(t *testing.T) {
	calls := 0
	rt := &fakeRuntime{
		listFn: func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
			calls++
			if calls == 1 {
				return []containertypes.Summary{
					{ID: "aaa", Names: []string{"/a"}, Status: "Exited"},
					{ID: "bbb", Names: []string{"/b"}, Status: "Exited"},
				}, nil
			}
			return []containertypes.Summary{{ID: "bbb", Names: []string{"/b"}, Status: "Exited"}}, nil
		},
	}
	sc, st, _ := newTestScanner(rt)
	_ = sc.Scan(context.Background())
	_ = sc.Scan(context.Background())

	services := st.Services()
	if len(services) != 1 || services[0].Name != "b" {
		t.Fatalf("expected only 'b' to remain, got %v", services)
	}
}

func TestScanFailsSoftOnEnumerationError(t *testing.T) {
	rt := &fakeRuntime{
		listFn: func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
			return nil, errors.New("daemon unreachable")
		},
	}
	sc, st, _ := newTestScanner(rt)
	st.ReplaceServices(map[string]domain.ServiceInstance{"web": {Name: "web"}})

	if err := sc.Scan(context.Background()); err == nil {
		t.Fatal("expected scan error to propagate to the caller")
	}
	if len(st.Services()) != 1 {
		t.Fatal("expected previous snapshot to be retained on enumeration failure")
	}
}

func TestScanUpdateCheckTickCounter(t *testing.T) {
	rt := &fakeRuntime{
		listFn: func(ctx context.Context, opts containertypes.ListOptions) ([]containertypes.Summary, error) {
			return nil, nil
		},
	}
	sc, _, _ := newTestScanner(rt) // UpdateCheckTicks: 2

	_ = sc.Scan(context.Background())
	if sc.TakeUpdateCheck() {
		t.Fatal("expected no update check flag before reaching the tick threshold")
	}
	_ = sc.Scan(context.Background())
	if !sc.TakeUpdateCheck() {
		t.Fatal("expected update check flag to be raised at the tick threshold")
	}
	if sc.TakeUpdateCheck() {
		t.Fatal("expected TakeUpdateCheck to clear the flag once consumed")
	}
}

func TestCalculateCPUPercentBoundaries(t *testing.T) {
	rt := &fakeRuntime{}
	sc, st, _ := newTestScanner(rt)

	// Example 5 from spec.md §8: (200,1000,online=2) then (300,1500) => 40.0
	// With no cached pair, the first sample is measured against its zero
	// PreCPUStats: (200/1000)*2*100 = 40.
	first := containertypes.StatsResponse{
		CPUStats: containertypes.CPUStats{CPUUsage: containertypes.CPUUsage{TotalUsage: 200}, SystemUsage: 1000, OnlineCPUs: 2},
	}
	if got := sc.calculateCPUPercent("c1", first); got < 40-0.0001 || got > 40+0.0001 {
		t.Fatalf("expected 40 on first sample against zero PreCPUStats, got %v", got)
	}

	second := containertypes.StatsResponse{
		CPUStats: containertypes.CPUStats{CPUUsage: containertypes.CPUUsage{TotalUsage: 300}, SystemUsage: 1500, OnlineCPUs: 2},
	}
	got := sc.calculateCPUPercent("c1", second)
	want := 40.0
	if got < want-0.0001 || got > want+0.0001 {
		t.Fatalf("expected %.4f, got %.4f", want, got)
	}

	// system_total - prev_system == 0 => 0, no division by zero.
	st.SetCPUDelta("c2", state.CPUSample{CPUTotal: 100, SystemTotal: 1000, OnlineCPUs: 2})
	same := containertypes.StatsResponse{
		CPUStats: containertypes.CPUStats{CPUUsage: containertypes.CPUUsage{TotalUsage: 200}, SystemUsage: 1000, OnlineCPUs: 2},
	}
	if got := sc.calculateCPUPercent("c2", same); got != 0 {
		t.Fatalf("expected 0 when system delta is zero, got %v", got)
	}
}

func TestSampleOneDecodesStatsAndComputesMemory(t *testing.T) {
	rt := &fakeRuntime{
		statsFn: func(ctx context.Context, id string) (containertypes.StatsResponseReader, error) {
			stats := containertypes.StatsResponse{}
			stats.MemoryStats.Usage = 10 * 1024 * 1024
			stats.CPUStats.OnlineCPUs = 2
			return statsReader(t, stats), nil
		},
	}
	sc, _, _ := newTestScanner(rt)

	_, mem, err := sc.sampleOne(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem != 10 {
		t.Fatalf("expected 10 MiB, got %d", mem)
	}
}
