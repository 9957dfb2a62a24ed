package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// SystemSnapshot is the last sample taken by SystemCollector.
type SystemSnapshot struct {
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	OpenFiles  int32     `json:"open_fds"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SystemCollector samples process resource usage on an interval.
type SystemCollector struct {
	proc     *process.Process
	interval time.Duration
	logger   *zap.SugaredLogger

	cpuPercent prometheus.Gauge
	rssBytes   prometheus.Gauge
	openFDs    prometheus.Gauge
	goroutines prometheus.Gauge

	mu   sync.RWMutex
	last SystemSnapshot
}

func NewSystemCollector(reg prometheus.Registerer, interval time.Duration, logger *zap.SugaredLogger) (*SystemCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	factory := promauto.With(reg)
	return &SystemCollector{
		proc:     proc,
		interval: interval,
		logger:   logger,
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualgate_process_cpu_percent",
			Help: "Process CPU usage since the previous sample",
		}),
		rssBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualgate_process_rss_bytes",
			Help: "Resident set size of the process",
		}),
		openFDs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualgate_process_open_fds",
			Help: "Open file descriptors, sockets included",
		}),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dualgate_goroutines",
			Help: "Number of goroutines",
		}),
	}, nil
}

// Start samples immediately and then every interval until ctx ends.
func (c *SystemCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample(ctx)
		}
	}
}

// Sample refreshes the gauges. Individual sampling failures leave the previous
// value in place; open fds are not available on every platform.
func (c *SystemCollector) Sample(ctx context.Context) SystemSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.last
	snap.SampledAt = time.Now()
	snap.Goroutines = runtime.NumGoroutine()

	if pct, err := c.proc.PercentWithContext(ctx, 0); err == nil {
		snap.CPUPercent = pct
	} else {
		c.logger.Debugw("cpu sample failed", "error", err)
	}
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		snap.RSSBytes = mem.RSS
	} else {
		c.logger.Debugw("memory sample failed", "error", err)
	}
	if fds, err := c.proc.NumFDsWithContext(ctx); err == nil {
		snap.OpenFiles = fds
	}

	c.cpuPercent.Set(snap.CPUPercent)
	c.rssBytes.Set(float64(snap.RSSBytes))
	c.openFDs.Set(float64(snap.OpenFiles))
	c.goroutines.Set(float64(snap.Goroutines))

	c.last = snap
	return snap
}

func (c *SystemCollector) Last() SystemSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
