package workers

import (
	"chat-hub/observability"
	"chat-hub/runtime"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const DefaultReportInterval = 5 * time.Second

// PresenceReporter periodically publishes the registry size and process stats to the
// Prometheus gauges and the health snapshot served on /health.
type PresenceReporter struct {
	log      *slog.Logger
	registry *runtime.Registry
	channels *runtime.Channels
	metrics  *observability.Metrics
	health   *observability.Health
	interval time.Duration
}

func NewPresenceReporter(
	log *slog.Logger,
	registry *runtime.Registry,
	channels *runtime.Channels,
	metrics *observability.Metrics,
	health *observability.Health,
	interval time.Duration,
) *PresenceReporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &PresenceReporter{
		log:      log,
		registry: registry,
		channels: channels,
		metrics:  metrics,
		health:   health,
		interval: interval,
	}
}

func (w *PresenceReporter) Run(ctx context.Context) error {
	w.log.Info("Starting presence reporter", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	w.Report(p)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Report(p)
		}
	}
}

// Report takes one snapshot. Process stats are optional: a failure is logged and the
// presence figures are still published.
func (w *PresenceReporter) Report(p *process.Process) observability.Snapshot {
	stats := w.registry.Stats()
	snapshot := observability.Snapshot{
		OnlineUsers: stats.Users,
		Sessions:    stats.Sessions,
		Channels:    w.channels.Count(),
		UpdatedAt:   time.Now().UTC(),
	}
	if p != nil {
		rss, cpu, status, err := selfStats(p)
		if err != nil {
			w.log.Debug("Failed to collect self stats", "error", err)
		} else {
			snapshot.RSSBytes, snapshot.CPUPercent, snapshot.ProcStatus = rss, cpu, status
		}
	}

	w.metrics.Sessions.Set(float64(snapshot.Sessions))
	w.metrics.OnlineUsers.Set(float64(snapshot.OnlineUsers))
	w.metrics.Channels.Set(float64(snapshot.Channels))
	w.metrics.ProcessRSS.Set(float64(snapshot.RSSBytes))
	w.metrics.ProcessCPU.Set(snapshot.CPUPercent)
	w.health.Update(snapshot)
	return w.health.Latest()
}

// selfStats retrieves memory, CPU and OS status of the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
