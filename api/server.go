// Package api exposes scans, schedules and settings over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"linkscan/crawler"
	"linkscan/models"
	"linkscan/services"
	"linkscan/storage"
)

const (
	defaultEventInterval = time.Second
	shutdownTimeout      = 10 * time.Second
)

// Engine is the part of the crawl engine the API drives.
type Engine interface {
	Start(ctx context.Context, req crawler.StartRequest) (*models.Scan, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Progress(id string) (models.ScanProgress, bool)
	Done(id string) <-chan struct{}
	IsRunning(id string) bool
}

// Evaluator runs a scheduler pass on demand.
type Evaluator interface {
	TriggerNow(ctx context.Context) (int, error)
}

// Purger queues a retention pass.
type Purger interface {
	Enabled() bool
	Trigger()
}

type Deps struct {
	Engine    Engine
	Scans     storage.ScanStore
	Schedules *services.ScheduleService
	Settings  *services.SettingsService
	Reports   *services.ReportService
	Scheduler Evaluator
	Retention Purger
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

type Server struct {
	engine    Engine
	scans     storage.ScanStore
	schedules *services.ScheduleService
	settings  *services.SettingsService
	reports   *services.ReportService
	scheduler Evaluator
	retention Purger
	gatherer  prometheus.Gatherer
	logger    *zap.Logger

	eventInterval time.Duration
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		engine:        d.Engine,
		scans:         d.Scans,
		schedules:     d.Schedules,
		settings:      d.Settings,
		reports:       d.Reports,
		scheduler:     d.Scheduler,
		retention:     d.Retention,
		gatherer:      gatherer,
		logger:        logger.Named("api"),
		eventInterval: defaultEventInterval,
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger))
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	scans := router.Group("/scans")
	scans.POST("", s.startScan)
	scans.GET("", s.listScans)
	scans.DELETE("", s.clearScans)
	scans.GET("/:id", s.getScan)
	scans.DELETE("/:id", s.deleteScan)
	scans.POST("/:id/cancel", s.cancelScan)
	scans.GET("/:id/links", s.listLinks)
	scans.GET("/:id/report", s.scanReport)
	scans.GET("/:id/events", s.scanEvents)

	schedules := router.Group("/schedules")
	schedules.GET("", s.listSchedules)
	schedules.POST("", s.createSchedule)
	schedules.DELETE("/history", s.clearScheduleHistory)
	schedules.POST("/evaluate", s.evaluateSchedules)
	schedules.GET("/:id", s.getSchedule)
	schedules.PUT("/:id", s.updateSchedule)
	schedules.DELETE("/:id", s.deleteSchedule)

	router.GET("/settings/scan-defaults", s.getScanDefaults)
	router.PUT("/settings/scan-defaults", s.putScanDefaults)

	router.POST("/admin/retention", s.triggerRetention)

	return router
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
			logger.Error("HTTP request with errors", fields...)
			return
		}
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			logger.Debug("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}
