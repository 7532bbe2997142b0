package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkscan/config"
	"linkscan/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrScanClosed is returned when writing links to a scan that is not running.
	ErrScanClosed = errors.New("scan is not running")
)

type ScanStore interface {
	CreateScan(ctx context.Context, scan *models.Scan) error
	MarkScanRunning(ctx context.Context, id string) (bool, error)
	UpdateScanProgress(ctx context.Context, id string, p models.ScanProgress) error
	// AppendLink upserts by (scan, url) and adds link.Sources to the URL's
	// source list. link.ID is set on return.
	AppendLink(ctx context.Context, link *models.ScanLink) error
	AddLinkSource(ctx context.Context, scanID, url, source string) error
	// FinalizeScan moves a pending or running scan to a terminal status and
	// recomputes its stats. It reports false if the scan was already terminal.
	FinalizeScan(ctx context.Context, id string, out models.ScanOutcome) (bool, error)

	GetScan(ctx context.Context, id string) (*models.Scan, error)
	ListScans(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error)
	ScanStats(ctx context.Context, id string) (models.ScanStats, error)
	ListLinks(ctx context.Context, scanID string, q models.LinkQuery) ([]models.ScanLink, int, error)
	ListLinkOccurrences(ctx context.Context, scanID string, q models.LinkQuery) ([]models.LinkOccurrence, int, error)

	DeleteScan(ctx context.Context, id string) error
	// ClearScans deletes every terminal scan.
	ClearScans(ctx context.Context) (int64, error)
	DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// RecoverInterrupted fails scans a previous process left pending or running.
	RecoverInterrupted(ctx context.Context, at time.Time) (int64, error)
}

type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]models.Schedule, error)
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	// ClearScheduleHistory deletes one_time schedules that have fired.
	ClearScheduleHistory(ctx context.Context) (int64, error)
	// MarkScheduleFired records a trigger. With deactivate set it only
	// succeeds once, reporting false for an already inactive schedule.
	MarkScheduleFired(ctx context.Context, id string, firedAt time.Time, scanID string, deactivate bool) (bool, error)
}

type SettingsStore interface {
	GetScanDefaults(ctx context.Context) (models.ScanDefaults, error)
	SaveScanDefaults(ctx context.Context, d models.ScanDefaults) error
}

type Store interface {
	ScanStore
	ScheduleStore
	SettingsStore
	Close() error
}

// Open connects to the configured driver and migrates the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
