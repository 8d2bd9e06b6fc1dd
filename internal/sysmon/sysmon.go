// Package sysmon samples host resource usage (memory pressure, CPU load)
// so the telemetry surface can report more than engine-internal counters.
package sysmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Sample is one point-in-time reading of host resource usage.
type Sample struct {
	Timestamp      time.Time
	CPUPercent     float64
	MemUsedPercent float64
	MemAvailableMB uint64
	MemTotalMB     uint64
}

// Read takes a single sample, spending up to interval measuring CPU usage.
func Read(ctx context.Context, interval time.Duration) (Sample, error) {
	cpuPct, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return Sample{}, err
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{
		Timestamp:      time.Now(),
		MemUsedPercent: vm.UsedPercent,
		MemAvailableMB: vm.Available / (1 << 20),
		MemTotalMB:     vm.Total / (1 << 20),
	}
	if len(cpuPct) > 0 {
		s.CPUPercent = cpuPct[0]
	}
	return s, nil
}

// Monitor periodically samples host resources and delivers them to fn until
// ctx is canceled.
func Monitor(ctx context.Context, interval time.Duration, fn func(Sample)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleCtx, cancel := context.WithTimeout(ctx, interval)
			s, err := Read(sampleCtx, interval/2)
			cancel()
			if err == nil {
				fn(s)
			}
		}
	}
}
