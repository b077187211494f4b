// Package governor samples host load and maps it to degradation hints that
// bound retrieval depth and optional behaviour.
package governor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Snapshot is one resource reading.
type Snapshot struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	RSSMB      float64   `json:"rss_mb"`
	TempC      *float64  `json:"temp_c,omitempty"`
	At         time.Time `json:"at"`
}

// Sampler reads current resource usage.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Monitor samples the host through gopsutil.
type Monitor struct {
	proc *process.Process
	now  func() time.Time
}

func NewMonitor(ctx context.Context) (*Monitor, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	// Prime the CPU counters so the first real sample is not zero.
	_, _ = cpu.PercentWithContext(ctx, 0, false)
	return &Monitor{proc: p, now: time.Now}, nil
}

// Sample reads CPU and memory usage. Temperature is best-effort.
func (m *Monitor) Sample(ctx context.Context) (Snapshot, error) {
	s := Snapshot{At: m.now()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("sample cpu: %w", err)
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("sample memory: %w", err)
	}
	s.MemPercent = vm.UsedPercent

	if info, err := m.proc.MemoryInfoWithContext(ctx); err == nil {
		s.RSSMB = float64(info.RSS) / (1024 * 1024)
	}
	s.TempC = hottest(ctx)
	return s, nil
}

func hottest(ctx context.Context) *float64 {
	temps, _ := sensors.TemperaturesWithContext(ctx)
	var best *float64
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		if best == nil || t.Temperature > *best {
			v := t.Temperature
			best = &v
		}
	}
	return best
}
