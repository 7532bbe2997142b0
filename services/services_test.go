package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkscan/crawler"
	"linkscan/models"
	"linkscan/scheduler"
	"linkscan/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "linkscan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func completedScan(t *testing.T, store *storage.SQLiteStore, links int) *models.Scan {
	t.Helper()
	ctx := context.Background()
	scan := &models.Scan{Site: "https://example.com", StartedAt: time.Now()}
	require.NoError(t, store.CreateScan(ctx, scan))
	_, err := store.MarkScanRunning(ctx, scan.ID)
	require.NoError(t, err)

	for i := 0; i < links; i++ {
		code := 200
		status := models.LinkStatusOK
		if i%3 == 0 {
			code = 404
			status = models.LinkStatusBroken
		}
		link := &models.ScanLink{
			ScanID:    scan.ID,
			URL:       fmt.Sprintf("https://example.com/page/%d", i),
			Type:      models.LinkTypeInternal,
			Status:    status,
			HTTPCode:  &code,
			CheckedAt: time.Now(),
			Sources:   []string{"https://example.com/", "menu:2"},
		}
		require.NoError(t, store.AppendLink(ctx, link))
	}
	_, err = store.FinalizeScan(ctx, scan.ID, models.ScanOutcome{
		Status:     models.ScanStatusCompleted,
		FinishedAt: time.Now(),
		Progress:   models.ScanProgress{TotalLinks: links, ProcessedLinks: links},
	})
	require.NoError(t, err)
	return scan
}

func TestReportService_BuildPagesThroughLinks(t *testing.T) {
	store := newTestStore(t)
	scan := completedScan(t, store, models.MaxPerPage+7)
	svc := NewReportService(store)

	report, err := svc.Build(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, report.Scan.Status)
	require.Len(t, report.Links, models.MaxPerPage+7)
	assert.Equal(t, models.LinkStatusBroken, report.Links[0].Status)
	assert.Equal(t, models.LinkStatusOK, report.Links[len(report.Links)-1].Status)

	_, err = svc.Build(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReportService_Renderers(t *testing.T) {
	store := newTestStore(t)
	scan := completedScan(t, store, 3)
	svc := NewReportService(store)
	report, err := svc.Build(context.Background(), scan.ID)
	require.NoError(t, err)

	r, err := svc.Renderer("csv", "")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, report))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "url", rows[0][0])
	assert.Equal(t, "2", rows[1][7])
	assert.Equal(t, "https://example.com/ | menu:2", rows[1][8])

	r, err = svc.Renderer("", "")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, r.Render(&buf, report))
	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, scan.ID, decoded.Scan.ID)
	assert.Len(t, decoded.Links, 3)
}

type fakePDF struct{}

func (fakePDF) ContentType() string { return "application/pdf" }
func (fakePDF) Extension() string   { return "pdf" }
func (fakePDF) Render(w io.Writer, r *Report) error {
	_, err := io.WriteString(w, "%PDF")
	return err
}

func TestReportService_Negotiation(t *testing.T) {
	svc := NewReportService(nil)

	r, err := svc.Renderer("", "text/csv;q=0.9, application/json")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", r.ContentType())

	r, err = svc.Renderer("", "text/html, */*;q=0.8")
	require.NoError(t, err)
	assert.Equal(t, "application/json", r.ContentType())

	_, err = svc.Renderer("", "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = svc.Renderer("pdf", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	svc.Register("pdf", fakePDF{})
	r, err = svc.Renderer("", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", r.Extension())
	r, err = svc.Renderer("PDF", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", r.ContentType())
}

type fakeArchiver struct {
	scanID, ext, contentType string
	body                     []byte
}

func (f *fakeArchiver) ArchiveScan(ctx context.Context, scanID, ext, contentType string, body []byte) (string, error) {
	f.scanID, f.ext, f.contentType, f.body = scanID, ext, contentType, body
	return "scans/" + scanID + "." + ext, nil
}

func TestArchiveService_OnlyCompletedScans(t *testing.T) {
	store := newTestStore(t)
	scan := completedScan(t, store, 2)
	archiver := &fakeArchiver{}
	svc := NewArchiveService(NewReportService(store), archiver, nil)

	svc.OnScanFinished(context.Background(), &models.Scan{ID: "x", Status: models.ScanStatusFailed})
	assert.Empty(t, archiver.scanID)

	got, err := store.GetScan(context.Background(), scan.ID)
	require.NoError(t, err)
	svc.OnScanFinished(context.Background(), got)
	assert.Equal(t, scan.ID, archiver.scanID)
	assert.Equal(t, "json", archiver.ext)
	assert.Equal(t, "application/json", archiver.contentType)
	assert.Contains(t, string(archiver.body), scan.ID)
}

func TestScheduleService_CreateAndUpdate(t *testing.T) {
	store := newTestStore(t)
	svc := NewScheduleService(store)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	sc := &models.Schedule{Type: models.ScheduleRecurring, Active: true, Site: "https://example.com", EveryDays: 1, Time: "03:00"}
	require.NoError(t, svc.Create(ctx, sc))
	require.NotEmpty(t, sc.ID)
	require.NotNil(t, sc.NextRunAt)
	assert.True(t, time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC).Equal(*sc.NextRunAt))

	bad := &models.Schedule{Type: models.ScheduleRecurring, Site: "https://example.com", EveryDays: 0, Time: "03:00"}
	assert.ErrorIs(t, svc.Create(ctx, bad), models.ErrInvalidSchedule)

	update := &models.Schedule{ID: sc.ID, Type: models.ScheduleRecurring, Active: true, Site: "https://example.com",
		EveryDays: 2, Time: "05:30", CreatedAt: time.Now()}
	require.NoError(t, svc.Update(ctx, update))

	got, err := svc.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EveryDays)
	assert.True(t, sc.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, time.Date(2024, 1, 3, 5, 30, 0, 0, time.UTC).Equal(*got.NextRunAt))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].NextRunAt)

	err = svc.Update(ctx, &models.Schedule{ID: "missing", Type: models.ScheduleRecurring, Site: "https://x.com", EveryDays: 1, Time: "01:00"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type countingStarter struct {
	starts int
}

func (c *countingStarter) Start(ctx context.Context, req crawler.StartRequest) (*models.Scan, error) {
	c.starts++
	return &models.Scan{ID: fmt.Sprintf("scan-%d", c.starts), Site: req.Site}, nil
}

func TestScheduleService_UpdateKeepsFiredOneTimeInactive(t *testing.T) {
	store := newTestStore(t)
	svc := NewScheduleService(store)
	starter := &countingStarter{}
	sched := scheduler.New(store, store, starter, "", nil)
	ctx := context.Background()

	runAt := time.Now().Add(-time.Hour).UTC()
	sc := &models.Schedule{Type: models.ScheduleOneTime, Active: true, Site: "https://example.com", RunAt: &runAt}
	require.NoError(t, svc.Create(ctx, sc))

	fired, err := sched.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	update := &models.Schedule{ID: sc.ID, Type: models.ScheduleOneTime, Active: true, Site: "https://example.com",
		RunAt: &runAt, Notify: true, NotifyEmail: "ops@example.com"}
	require.NoError(t, svc.Update(ctx, update))
	assert.False(t, update.Active)
	assert.Nil(t, update.NextRunAt)

	fired, err = sched.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, starter.starts)

	got, err := svc.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "ops@example.com", got.NotifyEmail)
}

func TestSettingsService_Caches(t *testing.T) {
	store := newTestStore(t)
	svc := NewSettingsService(store)
	ctx := context.Background()

	d, err := svc.GetScanDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultScanDefaults(), d)

	want := models.ScanDefaults{IncludeMenus: false, IncludeWidgets: true}
	require.NoError(t, svc.SaveScanDefaults(ctx, want))

	d, err = svc.GetScanDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, d)

	stored, err := store.GetScanDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}
