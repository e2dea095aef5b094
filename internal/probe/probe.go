// Package probe implements SystemProbe: a pure function of OS state that
// samples host CPU/RAM and, optionally, GPU utilization (spec.md §4.3).
package probe

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const mib = 1024 * 1024

// Sample is one host-level measurement.
type Sample struct {
	CPUUsage    float64
	RAMUsed     int64
	RAMTotal    int64
	GPUUsage    float64
	GPUMemUsed  int64
	GPUMemTotal int64
}

// GPUSample is what a GPUSampler reports; zero value means "no GPU hardware."
type GPUSample struct {
	UsagePercent float64
	MemUsed      int64
	MemTotal     int64
}

// GPUSampler samples GPU utilization. It is a swappable function rather than
// an interface so a caller can pick NoGPU, NvidiaSMI, or a custom sampler
// without a type to implement (DESIGN.md).
type GPUSampler func(ctx context.Context) (GPUSample, error)

// NoGPU is a GPUSampler that always reports the zero value, matching
// spec.md §4.3 step 2: "On absence of hardware, all GPU fields are 0."
func NoGPU(ctx context.Context) (GPUSample, error) {
	return GPUSample{}, nil
}

// NvidiaSMI samples GPU utilization by shelling out to nvidia-smi and
// parsing its single-line CSV output, the same zero-extra-dependency
// approach as a `--query-gpu=utilization.gpu,memory.used,memory.total
// --format=csv,noheader,nounits` probe. Missing binary, a nonzero exit, or
// unparseable output all degrade to the zero value rather than an error
// (spec.md §4.3 step 2: "On absence of hardware, all GPU fields are 0").
func NvidiaSMI(ctx context.Context) (GPUSample, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return GPUSample{}, nil
	}

	line := strings.TrimSpace(out.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return GPUSample{}, nil
	}

	usage, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		usage = 0
	}
	memUsed, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		memUsed = 0
	}
	memTotal, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		memTotal = 0
	}

	return GPUSample{UsagePercent: usage, MemUsed: memUsed, MemTotal: memTotal}, nil
}

// SystemProbe samples host CPU/RAM/GPU on demand.
type SystemProbe struct {
	gpu GPUSampler
}

// New creates a SystemProbe. A nil gpu sampler defaults to NoGPU.
func New(gpu GPUSampler) *SystemProbe {
	if gpu == nil {
		gpu = NoGPU
	}
	return &SystemProbe{gpu: gpu}
}

// Sample takes one host measurement. CPU percent is averaged over a short
// blocking window (gopsutil's cpu.PercentWithContext), and memory fields are
// truncated to MiB per spec.md's MiB-truncation convention.
func (p *SystemProbe) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuUsage float64
	if len(percents) > 0 {
		cpuUsage = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	gpuSample, err := p.gpu(ctx)
	if err != nil {
		gpuSample = GPUSample{}
	}

	return Sample{
		CPUUsage:    cpuUsage,
		RAMUsed:     int64(vm.Used) / mib,
		RAMTotal:    int64(vm.Total) / mib,
		GPUUsage:    gpuSample.UsagePercent,
		GPUMemUsed:  gpuSample.MemUsed,
		GPUMemTotal: gpuSample.MemTotal,
	}, nil
}
