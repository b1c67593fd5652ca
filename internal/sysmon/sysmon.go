// Package sysmon samples host-wide resource usage for health reporting.
package sysmon

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Stats holds a single snapshot of host resource usage. Fields that could not
// be read are left at zero.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"` // 0.0 .. 100.0
	MemPercent float64 `json:"mem_percent"` // 0.0 .. 100.0
	Load1      float64 `json:"load1"`
	NumCPU     int     `json:"num_cpu"`
}

// Sample collects a host snapshot. CPU usage is the delta since the previous
// call (interval 0), so the first sample of a process may read 0.
func Sample(ctx context.Context) Stats {
	var s Stats
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.NumCPU = n
	}
	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil && vmem != nil {
		s.MemPercent = vmem.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		s.Load1 = avg.Load1
	}
	return s
}
