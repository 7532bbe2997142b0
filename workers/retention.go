// Package workers holds background jobs that run beside the API.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"linkscan/metrics"
	"linkscan/storage"
)

// DefaultInterval is used when Run is given a non-positive interval.
const DefaultInterval = 6 * time.Hour

// RetentionWorker deletes finished scans older than the retention window.
type RetentionWorker struct {
	store     storage.ScanStore
	retention time.Duration
	triggerCh chan struct{}
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRetentionWorker(store storage.ScanStore, days int, logger *zap.Logger) *RetentionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionWorker{
		store:     store,
		retention: time.Duration(days) * 24 * time.Hour,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.Named("retention"),
		now:       time.Now,
	}
}

func (w *RetentionWorker) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

func (w *RetentionWorker) Enabled() bool {
	return w.retention > 0
}

// Trigger causes the worker to run immediately
func (w *RetentionWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run purges once at startup and then on every tick until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context, interval time.Duration) {
	if w.retention <= 0 {
		w.logger.Info("retention disabled")
		return
	}
	if interval <= 0 {
		w.logger.Warn("invalid retention interval, using default",
			zap.Duration("interval", interval), zap.Duration("default", DefaultInterval))
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Purge(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker stopping")
			return
		case <-ticker.C:
			w.Purge(ctx)
		case <-w.triggerCh:
			w.Purge(ctx)
		}
	}
}

// Purge deletes terminal scans started before now minus the retention window.
func (w *RetentionWorker) Purge(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention).UTC()
	n, err := w.store.DeleteScansBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error("purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	w.metrics.Purged(n)
	if n > 0 {
		w.logger.Info("purged old scans", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n
}
