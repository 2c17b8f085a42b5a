package system

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/host"
)

// GetHostInfo retrieves system host information
func GetHostInfo() (*HostInfo, error) {
	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	return &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelArch:      info.KernelArch,
		Uptime:          info.Uptime,
		UptimeHuman:     formatUptime(time.Duration(info.Uptime) * time.Second),
	}, nil
}

// formatUptime renders a duration as "1d 2h 3m"
func formatUptime(duration time.Duration) string {
	days := int(duration.Hours() / 24)
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
