package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"collab-lab/runtime"
)

// TelemetryWorker reports process health (CPU, RSS) and collaboration load
// (rooms, members, live subscribers) at a fixed interval.
type TelemetryWorker struct {
	log      *slog.Logger
	reg      *runtime.Registry
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, reg *runtime.Registry, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, reg: reg, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			stats := w.reg.Stats()
			w.log.Info("telemetry",
				"rooms", stats.Rooms,
				"members", stats.Members,
				"subscribers", stats.Subscribers,
				"cpu_percent", cpu,
				"ram_bytes", rss)
		}
	}
}

// getSelfStats retrieves memory and CPU usage for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
