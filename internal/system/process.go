// Package system reports host and process statistics for the status
// endpoint.
package system

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

// Collector samples statistics of the current process
type Collector struct {
	proc *process.Process
}

// NewCollector creates a collector for the running process
func NewCollector() (*Collector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open process: %w", err)
	}
	return &Collector{proc: p}, nil
}

// Collect returns a snapshot. Host and load lookups that are unavailable on
// the platform are left empty.
func (c *Collector) Collect(ctx context.Context) (*Stats, error) {
	info, err := c.processInfo(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Timestamp: time.Now().UTC(),
		Process:   *info,
	}
	if h, err := GetHostInfo(); err == nil {
		stats.Host = *h
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.LoadAvg1 = avg.Load1
	}
	return stats, nil
}

func (c *Collector) processInfo(ctx context.Context) (*ProcessInfo, error) {
	cpuPercent, err := c.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cpu percent: %w", err)
	}
	memInfo, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	info := &ProcessInfo{
		PID:        c.proc.Pid,
		CPUPercent: cpuPercent,
		MemoryRSS:  memInfo.RSS,
		Goroutines: runtime.NumGoroutine(),
	}
	if pct, err := c.proc.MemoryPercentWithContext(ctx); err == nil {
		info.MemoryPercent = pct
	}
	if n, err := c.proc.NumThreadsWithContext(ctx); err == nil {
		info.Threads = n
	}
	if children, err := c.proc.ChildrenWithContext(ctx); err == nil {
		info.Children = len(children)
	}
	if created, err := c.proc.CreateTimeWithContext(ctx); err == nil {
		info.Uptime = formatUptime(time.Since(time.UnixMilli(created)))
	}
	return info, nil
}
