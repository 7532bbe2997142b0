// Package scheduler fires scans for due schedules on a cron tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"linkscan/crawler"
	"linkscan/metrics"
	"linkscan/models"
	"linkscan/storage"
)

const DefaultSpec = "@every 1m"

// Starter starts a scan. *crawler.Engine satisfies it.
type Starter interface {
	Start(ctx context.Context, req crawler.StartRequest) (*models.Scan, error)
}

type Scheduler struct {
	store    storage.ScheduleStore
	settings storage.SettingsStore
	starter  Starter
	spec     string
	cron     *cron.Cron
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// one evaluation at a time, whether from cron or TriggerNow
	mu sync.Mutex
}

func New(store storage.ScheduleStore, settings storage.SettingsStore, starter Starter, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	logger = logger.Named("scheduler")
	cronLog := cronLogger{logger.Sugar()}
	return &Scheduler{
		store:    store,
		settings: settings,
		starter:  starter,
		spec:     spec,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.Evaluate(ctx, s.now()); err != nil {
			s.logger.Error("schedule evaluation failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.logger.Info("starting scheduler", zap.String("cron", s.spec))
	s.cron.Start()
	return nil
}

// Stop halts the tick and waits for a running evaluation.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// TriggerNow evaluates every schedule immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) (int, error) {
	return s.Evaluate(ctx, s.now())
}

// Evaluate starts a scan for every due schedule and records the firing.
// A schedule whose scan could not be started stays due for the next tick.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active schedules: %w", err)
	}

	defaults, err := s.settings.GetScanDefaults(ctx)
	if err != nil {
		s.logger.Warn("loading scan defaults, using built-in defaults", zap.Error(err))
		defaults = models.DefaultScanDefaults()
	}

	fired := 0
	for i := range schedules {
		sc := &schedules[i]
		log := s.logger.With(zap.String("schedule_id", sc.ID), zap.String("site", sc.Site))

		due, err := Due(sc, now)
		if err != nil {
			log.Warn("skipping invalid schedule", zap.Error(err))
			continue
		}
		if !due {
			continue
		}

		scan, err := s.starter.Start(ctx, crawler.StartRequest{
			Site:           sc.Site,
			IncludeMenus:   defaults.IncludeMenus,
			IncludeWidgets: defaults.IncludeWidgets,
		})
		if err != nil {
			if errors.Is(err, crawler.ErrScanInProgress) {
				log.Info("site busy, retrying on next tick")
			} else {
				log.Warn("scheduled scan failed to start", zap.Error(err))
			}
			continue
		}

		ok, err := s.store.MarkScheduleFired(ctx, sc.ID, now, scan.ID, sc.Type == models.ScheduleOneTime)
		if err != nil {
			log.Error("recording schedule firing", zap.String("scan_id", scan.ID), zap.Error(err))
			continue
		}
		if !ok {
			// deactivated or deleted while the scan was being started
			log.Warn("schedule changed during firing", zap.String("scan_id", scan.ID))
			continue
		}

		fired++
		s.metrics.ScheduleFired(sc.Type)
		log.Info("schedule fired", zap.String("type", string(sc.Type)), zap.String("scan_id", scan.ID))
	}
	return fired, nil
}

// cronLogger routes cron's own logging into zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
