package monitor

import (
	"context"
	"log"
	"math"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is one sample of process/host resource consumption.
type ResourceUsage struct {
	HostCPUPercent float64
	MemoryUsedMB   float64
	MemoryTotalMB  float64
	MemoryPercent  float64
	NumGoroutines  int
}

// Monitor samples host CPU utilization in the background so the metrics
// overlay can read a cached value instead of paying a gopsutil call on the
// frame path.
type Monitor struct {
	cpuPercent atomic.Uint64 // math.Float64bits encoded
	interval   time.Duration
}

// New creates a monitor sampling at the given interval.
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{interval: interval}
}

// HostCPUPercent returns the most recent host CPU utilization sample.
func (m *Monitor) HostCPUPercent() float64 {
	return math.Float64frombits(m.cpuPercent.Load())
}

// Start begins sampling until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			log.Printf("[monitor] error getting process: %v", err)
			proc = nil
		}

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		logEvery := 30 * time.Second
		lastLog := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Percent(0) returns utilization since the previous call
				percents, err := cpu.Percent(0, false)
				if err == nil && len(percents) > 0 {
					m.cpuPercent.Store(math.Float64bits(percents[0]))
				}

				if proc != nil && time.Since(lastLog) >= logEvery {
					lastLog = time.Now()
					usage, err := sample(proc, m.HostCPUPercent())
					if err != nil {
						log.Printf("[monitor] error getting resource usage: %v", err)
						continue
					}
					log.Printf("[monitor] CPU: %.2f%%, Memory: %.2f/%.2f MB (%.2f%%), Goroutines: %d",
						usage.HostCPUPercent,
						usage.MemoryUsedMB,
						usage.MemoryTotalMB,
						usage.MemoryPercent,
						usage.NumGoroutines)
				}
			}
		}
	}()
}

func sample(proc *process.Process, hostCPU float64) (ResourceUsage, error) {
	var usage ResourceUsage
	usage.HostCPUPercent = hostCPU

	virtualMem, err := mem.VirtualMemory()
	if err != nil {
		return usage, err
	}
	procMem, err := proc.MemoryInfo()
	if err != nil {
		return usage, err
	}

	usage.MemoryUsedMB = float64(procMem.RSS) / 1024 / 1024
	usage.MemoryTotalMB = float64(virtualMem.Total) / 1024 / 1024
	usage.MemoryPercent = float64(procMem.RSS) / float64(virtualMem.Total) * 100
	usage.NumGoroutines = runtime.NumGoroutine()

	return usage, nil
}
