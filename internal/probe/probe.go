package probe

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Memory abstracts the system memory query so components can be tested
// against a deterministic fake instead of the host OS.
type Memory interface {
	// TotalMemory returns the total physical memory in bytes
	TotalMemory() (uint64, error)

	// FreeMemory returns the available memory in bytes
	FreeMemory() (uint64, error)
}

// System queries the host via gopsutil
type System struct{}

// NewSystem creates a probe backed by the host OS
func NewSystem() *System {
	return &System{}
}

// TotalMemory returns total physical memory in bytes
func (s *System) TotalMemory() (uint64, error) {
	info, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to query virtual memory: %w", err)
	}
	return info.Total, nil
}

// FreeMemory returns available memory in bytes
func (s *System) FreeMemory() (uint64, error) {
	info, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to query virtual memory: %w", err)
	}
	return info.Available, nil
}

// CPUPercent samples system-wide CPU utilization over the given interval
func CPUPercent(interval time.Duration) (float64, error) {
	percents, err := cpu.Percent(interval, false)
	if err != nil {
		return 0, fmt.Errorf("failed to query CPU usage: %w", err)
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// UsedPercent derives the used-memory percentage from a probe
func UsedPercent(p Memory) (float64, error) {
	total, err := p.TotalMemory()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("probe reported zero total memory")
	}
	free, err := p.FreeMemory()
	if err != nil {
		return 0, err
	}
	return float64(total-free) / float64(total) * 100, nil
}
