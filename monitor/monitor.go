// Package monitor samples process and host resource usage for the
// services' health endpoints.
package monitor

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one resource-usage sample.
type Snapshot struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryUsedMB   uint64    `json:"memory_used_mb"`
	MemoryTotalMB  uint64    `json:"memory_total_mb"`
	HeapAllocMB    uint64    `json:"heap_alloc_mb"`
	GoroutineCount int       `json:"goroutine_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// Collect samples current usage. Sampling failures degrade to zeroed
// fields rather than failing a health check.
func Collect() Snapshot {
	snap := Snapshot{
		GoroutineCount: runtime.NumGoroutine(),
		Timestamp:      time.Now(),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap.HeapAllocMB = memStats.Alloc / 1024 / 1024

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedMB = vm.Used / 1024 / 1024
		snap.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	return snap
}
