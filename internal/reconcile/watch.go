package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Watcher reruns an integrity cycle on a fixed interval, for unattended
// scheduled monitoring.
type Watcher struct {
	interval time.Duration
	cycle    func(ctx context.Context) error
}

// NewWatcher creates a watcher running cycle every interval.
func NewWatcher(interval time.Duration, cycle func(ctx context.Context) error) *Watcher {
	return &Watcher{interval: interval, cycle: cycle}
}

// Run executes one cycle immediately, then one per tick. It blocks until
// ctx is cancelled; cycle failures are logged and the loop keeps going.
func (w *Watcher) Run(ctx context.Context) {
	interval := w.interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	log := zap.L().With(zap.String("component", "reconcile.watch"))
	log.Info("starting integrity watch", zap.Duration("interval", interval))

	if err := w.cycle(ctx); err != nil {
		log.Error("integrity cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("integrity watch stopped")
			return
		case <-ticker.C:
			if err := w.cycle(ctx); err != nil {
				log.Error("integrity cycle failed", zap.Error(err))
			}
		}
	}
}
