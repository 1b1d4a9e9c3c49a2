package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// ProcLoadSampler reads host CPU and memory utilisation from procfs. CPU
// usage is the busy share of jiffies since the previous sample; the first
// sample falls back to the average since boot.
type ProcLoadSampler struct {
	fs  procfs.FS
	now func() time.Time

	mu       sync.Mutex
	prev     procfs.CPUStat
	havePrev bool
}

var _ ports.LoadSampler = (*ProcLoadSampler)(nil)

// NewProcLoadSampler opens procfs at mountPoint. An empty mountPoint means
// procfs.DefaultMountPoint.
func NewProcLoadSampler(mountPoint string) (*ProcLoadSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", mountPoint, err)
	}
	return &ProcLoadSampler{fs: fs, now: time.Now}, nil
}

// Sample implements ports.LoadSampler.
func (s *ProcLoadSampler) Sample(ctx context.Context) (ports.LoadSample, error) {
	if err := ctx.Err(); err != nil {
		return ports.LoadSample{}, err
	}

	stat, err := s.fs.Stat()
	if err != nil {
		return ports.LoadSample{}, fmt.Errorf("read cpu stat: %w", err)
	}
	mem, err := s.fs.Meminfo()
	if err != nil {
		return ports.LoadSample{}, fmt.Errorf("read meminfo: %w", err)
	}

	s.mu.Lock()
	var cpu float64
	if s.havePrev {
		cpu = cpuPercent(s.prev, stat.CPUTotal)
	} else {
		cpu = cpuPercent(procfs.CPUStat{}, stat.CPUTotal)
	}
	s.prev = stat.CPUTotal
	s.havePrev = true
	s.mu.Unlock()

	return ports.LoadSample{
		CPUPercent:    cpu,
		MemoryPercent: memoryPercent(mem),
		Timestamp:     s.now(),
	}, nil
}

// cpuPercent is the non-idle share of CPU time between two readings.
func cpuPercent(prev, cur procfs.CPUStat) float64 {
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	total := cpuTotal(cur) - cpuTotal(prev)
	if total <= 0 {
		return 0
	}
	pct := 100 * (1 - idle/total)
	return clampPercent(pct)
}

func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

// memoryPercent is the share of memory not available for new allocations.
// Older kernels without MemAvailable fall back to MemFree.
func memoryPercent(m procfs.Meminfo) float64 {
	if m.MemTotal == nil || *m.MemTotal == 0 {
		return 0
	}
	var avail uint64
	switch {
	case m.MemAvailable != nil:
		avail = *m.MemAvailable
	case m.MemFree != nil:
		avail = *m.MemFree
	}
	return clampPercent(100 * (1 - float64(avail)/float64(*m.MemTotal)))
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// StaticLoadSampler returns a fixed sample. It stands in for procfs on
// hosts without it and in tests.
type StaticLoadSampler struct {
	mu     sync.Mutex
	sample ports.LoadSample
}

var _ ports.LoadSampler = (*StaticLoadSampler)(nil)

// NewStaticLoadSampler creates a sampler reporting cpu and mem percent.
func NewStaticLoadSampler(cpu, mem float64) *StaticLoadSampler {
	return &StaticLoadSampler{sample: ports.LoadSample{CPUPercent: cpu, MemoryPercent: mem}}
}

// Set changes the reported load.
func (s *StaticLoadSampler) Set(cpu, mem float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample.CPUPercent = cpu
	s.sample.MemoryPercent = mem
}

// Sample implements ports.LoadSampler.
func (s *StaticLoadSampler) Sample(ctx context.Context) (ports.LoadSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sample
	out.Timestamp = time.Now()
	return out, nil
}
