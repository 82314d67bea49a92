package results

import (
	"context"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const DefaultSampleInterval = 5 * time.Second

type ResourceUsage interface {
	CPUPercent() float64
	MemoryMB() float64
}

// SystemSampler refreshes process CPU and memory usage in the background so
// publishing a result only reads two atomics.
type SystemSampler struct {
	interval time.Duration
	proc     *process.Process
	cpu      atomic.Uint64
	mem      atomic.Uint64
}

func NewSystemSampler(interval time.Duration) *SystemSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	s := &SystemSampler{interval: interval}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("unable to inspect own process, resource usage will be reported as zero", "error", err)
	} else {
		s.proc = proc
	}
	return s
}

func (s *SystemSampler) Run(ctx context.Context) {
	s.sample(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *SystemSampler) sample(ctx context.Context) {
	if s.proc == nil {
		return
	}

	if cpu, err := s.proc.PercentWithContext(ctx, 0); err == nil {
		s.cpu.Store(math.Float64bits(cpu))
	} else {
		slog.Debug("error sampling cpu usage", "error", err)
	}

	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		s.mem.Store(math.Float64bits(float64(mem.RSS) / (1024 * 1024)))
	} else {
		slog.Debug("error sampling memory usage", "error", err)
	}
}

func (s *SystemSampler) CPUPercent() float64 {
	return math.Float64frombits(s.cpu.Load())
}

func (s *SystemSampler) MemoryMB() float64 {
	return math.Float64frombits(s.mem.Load())
}
