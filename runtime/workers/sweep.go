package workers

import (
	"context"
	"log/slog"
	"time"

	"collab-lab/contract"
)

// SweepWorker drives the periodic presence sweep: heartbeat-expired members
// are evicted, stale typing indicators reverted. It runs independently of
// per-connection goroutines, so a wedged connection cannot stall eviction.
type SweepWorker struct {
	log      *slog.Logger
	sweeper  contract.ISweeper
	interval time.Duration
}

func NewSweepWorker(log *slog.Logger, sweeper contract.ISweeper, interval time.Duration) *SweepWorker {
	return &SweepWorker{log: log, sweeper: sweeper, interval: interval}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	w.log.Info("Starting presence sweep worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := w.sweeper.SweepExpired(time.Now().UTC()); evicted > 0 {
				w.log.Info("Sweep evicted expired participants", "count", evicted)
			}
		}
	}
}
