package system

import "time"

// HostInfo identifies the machine the agent runs on
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelArch      string `json:"kernel_arch"`
	Uptime          uint64 `json:"uptime"`
	UptimeHuman     string `json:"uptime_human"`
}

// ProcessInfo describes the agent process. Browser processes started for
// tasks are counted as children.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss"`
	MemoryPercent float32 `json:"memory_percent"`
	Threads       int32   `json:"threads"`
	Goroutines    int     `json:"goroutines"`
	Children      int     `json:"children"`
	Uptime        string  `json:"uptime"`
}

// Stats is the process snapshot reported on the status endpoint
type Stats struct {
	Timestamp time.Time   `json:"timestamp"`
	Host      HostInfo    `json:"host"`
	Process   ProcessInfo `json:"process"`
	LoadAvg1  float64     `json:"load_avg_1"`
}
