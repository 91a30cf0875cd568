// Package sysinfo samples host-wide resource usage so the load generator
// can report the pressure it (and everything else) puts on the machine.
package sysinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

// Sampler reads CPU, memory, disk and network counters from the host. CPU
// usage is measured since the previous call, so the first sample of a run
// reports utilization since boot.
type Sampler struct {
	diskPath string
}

// New returns a Sampler that reports disk usage for diskPath. An empty path
// defaults to the filesystem root.
func New(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{diskPath: diskPath}
}

func (s *Sampler) Sample(ctx context.Context) (metrics.HostSample, error) {
	var sample metrics.HostSample

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("sampling cpu: %w", err)
	}
	if len(cpuPct) > 0 {
		sample.CPUPercent = cpuPct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("sampling memory: %w", err)
	}
	sample.MemoryPercent = vm.UsedPercent
	sample.MemoryUsedBytes = vm.Used

	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return sample, fmt.Errorf("sampling disk %s: %w", s.diskPath, err)
	}
	sample.DiskPercent = du.UsedPercent

	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return sample, fmt.Errorf("sampling network: %w", err)
	}
	if len(counters) > 0 {
		sample.NetBytesSent = counters[0].BytesSent
		sample.NetBytesRecv = counters[0].BytesRecv
	}

	return sample, nil
}
