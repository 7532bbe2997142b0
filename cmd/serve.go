package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkscan/api"
	"linkscan/metrics"
	"linkscan/scheduler"
	"linkscan/services"
	"linkscan/storage"
	"linkscan/workers"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, cleanup, err := loadConfig(nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting linkscan",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("database", describeDatabase(cfg.Database)),
		zap.Int("site_configs", len(cfg.Sites)))

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if n, err := store.RecoverInterrupted(ctx, time.Now()); err != nil {
		return fmt.Errorf("recover interrupted scans: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted scans as failed", zap.Int64("count", n))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	engine := newEngine(cfg, store, m, logger)

	reports := services.NewReportService(store)
	settings := services.NewSettingsService(store)
	if cfg.S3.Enabled() {
		archiver, err := storage.NewS3Archiver(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("set up report archive: %w", err)
		}
		engine.OnFinished(services.NewArchiveService(reports, archiver, logger).OnScanFinished)
		logger.Info("archiving reports to s3", zap.String("bucket", cfg.S3.Bucket))
	}

	sched := scheduler.New(store, settings, engine, cfg.Scheduler.Cron, logger)
	sched.SetMetrics(m)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	retention := workers.NewRetentionWorker(store, cfg.Retention.Days, logger)
	retention.SetMetrics(m)
	go retention.Run(ctx, cfg.Retention.Interval)

	srv := api.NewServer(api.Deps{
		Engine:    engine,
		Scans:     store,
		Schedules: services.NewScheduleService(store),
		Settings:  settings,
		Reports:   reports,
		Scheduler: sched,
		Retention: retention,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger,
	})
	serveErr := srv.ListenAndServe(ctx, cfg.HTTP.Addr)
	if serveErr != nil {
		logger.Error("http server stopped", zap.Error(serveErr))
	}

	logger.Info("shutting down")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("scans did not stop in time", zap.Error(err))
	}
	logger.Info("goodbye")
	return serveErr
}
