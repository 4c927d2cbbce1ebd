package probes

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/stats"
)

// cpuProbe samples overall CPU utilization as a percentage, grounded on the
// teacher corpus's gopsutil usage pattern: a short blocking sample window
// rather than reading a raw counter (cpu.Percent(100ms, false)).
type cpuProbe struct{}

func (p *cpuProbe) Name() string    { return "cpu" }
func (p *cpuProbe) Supported() bool { return true }

func (p *cpuProbe) Sample(ctx context.Context, now time.Time, tracker *stats.Tracker) error {
	percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return fmt.Errorf("cpu.Percent: %w", err)
	}
	if len(percents) == 0 {
		return fmt.Errorf("cpu.Percent: no samples returned")
	}
	tracker.AddValue(now, percents[0])
	return nil
}

// memoryProbe samples used-memory percentage via mem.VirtualMemory.
type memoryProbe struct{}

func (p *memoryProbe) Name() string    { return "memory" }
func (p *memoryProbe) Supported() bool { return true }

func (p *memoryProbe) Sample(ctx context.Context, now time.Time, tracker *stats.Tracker) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("mem.VirtualMemory: %w", err)
	}
	tracker.AddValue(now, vm.UsedPercent)
	return nil
}

// diskProbe samples used-space percentage for one mount point, named by the
// job's "path" parameter (default "/") (spec.md §6 "for each probe file:
// monitor_enabled, monitor_class, probe-specific keys").
type diskProbe struct {
	path string
}

func newDiskProbe(params []protocol.Parameter) (Probe, error) {
	path := "/"
	for _, p := range params {
		if p.Key == "path" && p.Value != "" {
			path = p.Value
		}
	}
	return &diskProbe{path: path}, nil
}

func (p *diskProbe) Name() string { return "disk:" + p.path }

func (p *diskProbe) Supported() bool {
	_, err := disk.Usage(p.path)
	return err == nil
}

func (p *diskProbe) Sample(ctx context.Context, now time.Time, tracker *stats.Tracker) error {
	usage, err := disk.UsageWithContext(ctx, p.path)
	if err != nil {
		return fmt.Errorf("disk.Usage(%s): %w", p.path, err)
	}
	tracker.AddValue(now, usage.UsedPercent)
	return nil
}

// networkProbe samples cumulative bytes sent+received across all
// interfaces, converted to a per-sample delta so successive intervals read
// as throughput rather than a monotonically growing counter.
type networkProbe struct {
	lastTotal uint64
	haveLast  bool
}

func (p *networkProbe) Name() string    { return "network" }
func (p *networkProbe) Supported() bool { return true }

func (p *networkProbe) Sample(ctx context.Context, now time.Time, tracker *stats.Tracker) error {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return fmt.Errorf("net.IOCounters: %w", err)
	}
	if len(counters) == 0 {
		return fmt.Errorf("net.IOCounters: no interfaces returned")
	}
	total := counters[0].BytesSent + counters[0].BytesRecv

	var delta uint64
	if p.haveLast && total >= p.lastTotal {
		delta = total - p.lastTotal
	}
	p.lastTotal = total
	p.haveLast = true

	tracker.AddValue(now, float64(delta))
	return nil
}
