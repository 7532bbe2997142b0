package services

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"linkscan/models"
)

// Archiver stores a rendered report. *storage.S3Archiver satisfies it.
type Archiver interface {
	ArchiveScan(ctx context.Context, scanID, ext, contentType string, body []byte) (string, error)
}

// ArchiveService exports every completed scan as a JSON report.
type ArchiveService struct {
	reports  *ReportService
	archiver Archiver
	renderer ReportRenderer
	logger   *zap.Logger
}

func NewArchiveService(reports *ReportService, archiver Archiver, logger *zap.Logger) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveService{
		reports:  reports,
		archiver: archiver,
		renderer: JSONRenderer{},
		logger:   logger.Named("archive"),
	}
}

// OnScanFinished is registered as a crawl engine hook.
func (s *ArchiveService) OnScanFinished(ctx context.Context, scan *models.Scan) {
	if scan.Status != models.ScanStatusCompleted {
		return
	}
	key, err := s.Archive(ctx, scan.ID)
	if err != nil {
		s.logger.Error("archiving scan report", zap.String("scan_id", scan.ID), zap.Error(err))
		return
	}
	s.logger.Info("scan report archived", zap.String("scan_id", scan.ID), zap.String("key", key))
}

func (s *ArchiveService) Archive(ctx context.Context, scanID string) (string, error) {
	report, err := s.reports.Build(ctx, scanID)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, report); err != nil {
		return "", err
	}
	return s.archiver.ArchiveScan(ctx, scanID, s.renderer.Extension(), s.renderer.ContentType(), buf.Bytes())
}
