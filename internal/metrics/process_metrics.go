package metrics

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var (
	workspaceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "cpu_percent",
			Help:      "CPU usage of the workspace's agent server process.",
		}, []string{"workspace"},
	)
	workspaceRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the workspace's agent server process.",
		}, []string{"workspace"},
	)
)

// ProcessSample holds one CPU/memory observation for an agent server.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler periodically samples CPU and memory of tracked agent server
// processes via gopsutil and exports them as gauges.
type Sampler struct {
	mu       sync.Mutex
	interval time.Duration
	tracked  map[string]int32 // workspace path -> pid
	latest   map[string]ProcessSample
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSampler creates a sampler with the given interval (default 10s).
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sampler{
		interval: interval,
		tracked:  make(map[string]int32),
		latest:   make(map[string]ProcessSample),
		stopCh:   make(chan struct{}),
	}
}

// RegisterSamplerCollectors registers the per-workspace gauges. A nil
// registerer means prometheus.DefaultRegisterer.
func RegisterSamplerCollectors(r prometheus.Registerer) error {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{workspaceCPU, workspaceRSS} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Track starts sampling the given pid under the workspace label.
func (s *Sampler) Track(workspace string, pid int) {
	s.mu.Lock()
	s.tracked[workspace] = int32(pid)
	s.mu.Unlock()
}

// Untrack stops sampling a workspace and removes its gauge series.
func (s *Sampler) Untrack(workspace string) {
	s.mu.Lock()
	delete(s.tracked, workspace)
	delete(s.latest, workspace)
	s.mu.Unlock()
	workspaceCPU.DeleteLabelValues(workspace)
	workspaceRSS.DeleteLabelValues(workspace)
}

// Latest returns the most recent sample for a workspace, if any.
func (s *Sampler) Latest(workspace string) (ProcessSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.latest[workspace]
	return sm, ok
}

// Run samples until Stop is called. Intended to run in its own goroutine.
func (s *Sampler) Run() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sampleAll()
		case <-s.stopCh:
			return
		}
	}
}

// Stop terminates the sampling loop. Safe to call multiple times.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sampler) sampleAll() {
	s.mu.Lock()
	pids := make(map[string]int32, len(s.tracked))
	for ws, pid := range s.tracked {
		pids[ws] = pid
	}
	s.mu.Unlock()

	for ws, pid := range pids {
		sample, err := sampleProcess(pid)
		if err != nil {
			// Process likely exited between the manager's bookkeeping and
			// this tick; the manager untracks on stop.
			slog.Debug("process sample failed", "workspace", ws, "pid", pid, "error", err)
			continue
		}
		s.mu.Lock()
		s.latest[ws] = sample
		s.mu.Unlock()
		workspaceCPU.WithLabelValues(ws).Set(sample.CPUPercent)
		workspaceRSS.WithLabelValues(ws).Set(float64(sample.MemoryRSS))
	}
}

func sampleProcess(pid int32) (ProcessSample, error) {
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return ProcessSample{}, err
	}
	sample := ProcessSample{PID: pid, Timestamp: time.Now()}
	if cpu, err := p.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		sample.MemoryRSS = mem.RSS
	}
	if th, err := p.NumThreads(); err == nil {
		sample.NumThreads = th
	}
	return sample, nil
}
