package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkscan/crawler"
	"linkscan/models"
	"linkscan/storage"
)

func utcTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func recurring(created string, every int, at string) *models.Schedule {
	return &models.Schedule{
		Type:      models.ScheduleRecurring,
		Active:    true,
		Site:      "https://example.com",
		EveryDays: every,
		Time:      at,
		CreatedAt: utcTime(created),
	}
}

func TestNextRun_FirstRunIsNextDay(t *testing.T) {
	s := recurring("2024-01-01T10:00:00Z", 1, "03:00")

	next, err := NextRun(s, s.CreatedAt)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, utcTime("2024-01-02T03:00:00Z").Equal(*next), next.String())

	due, err := Due(s, s.CreatedAt)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestNextRun_SameDayWhenTimeStillAhead(t *testing.T) {
	s := recurring("2024-01-01T01:30:00Z", 3, "03:00")

	next, err := NextRun(s, s.CreatedAt)
	require.NoError(t, err)
	assert.True(t, utcTime("2024-01-01T03:00:00Z").Equal(*next))

	due, err := Due(s, utcTime("2024-01-01T03:00:00Z"))
	require.NoError(t, err)
	assert.True(t, due)
}

func TestNextRun_NoDriftAfterMissedTicks(t *testing.T) {
	s := recurring("2024-01-01T10:00:00Z", 7, "03:00")

	// nothing ran for 20 days
	now := utcTime("2024-01-21T10:00:00Z")
	due, err := Due(s, now)
	require.NoError(t, err)
	assert.True(t, due)

	fired := now.Add(42 * time.Second)
	s.LastRunAt = &fired

	due, err = Due(s, fired.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, due, "a catch-up fires once")

	next, err := NextRun(s, fired)
	require.NoError(t, err)
	assert.True(t, utcTime("2024-01-22T03:00:00Z").Equal(*next), next.String())
}

func TestNextRun_KeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s := recurring("2024-03-08T12:00:00Z", 1, "03:30")
	s.Timezone = "America/New_York"

	// DST starts on 2024-03-10
	next, err := NextRun(s, time.Date(2024, 3, 10, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	local := next.In(loc)
	assert.Equal(t, 11, local.Day())
	assert.Equal(t, 3, local.Hour())
	assert.Equal(t, 30, local.Minute())
}

func TestOneTime(t *testing.T) {
	runAt := utcTime("2024-05-01T09:00:00Z")
	s := &models.Schedule{Type: models.ScheduleOneTime, Active: true, Site: "https://example.com", RunAt: &runAt}

	due, err := Due(s, runAt.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, due)

	due, err = Due(s, runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, due)

	next, err := NextRun(s, runAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, runAt.Equal(*next))

	s.Active = false
	due, err = Due(s, runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, due)
	next, err = NextRun(s, runAt)
	require.NoError(t, err)
	assert.Nil(t, next)
}

type fakeStarter struct {
	requests []crawler.StartRequest
	err      error
}

func (f *fakeStarter) Start(ctx context.Context, req crawler.StartRequest) (*models.Scan, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &models.Scan{ID: "scan-" + req.Site, Site: req.Site, Status: models.ScanStatusPending}, nil
}

func newTestScheduler(t *testing.T, starter Starter) (*Scheduler, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, store, starter, "", nil), store
}

func TestEvaluate_OneTimeFiresOnce(t *testing.T) {
	starter := &fakeStarter{}
	sched, store := newTestScheduler(t, starter)
	ctx := context.Background()

	require.NoError(t, store.SaveScanDefaults(ctx, models.ScanDefaults{IncludeMenus: false, IncludeWidgets: true}))

	runAt := utcTime("2024-05-01T09:00:00Z")
	sc := &models.Schedule{Type: models.ScheduleOneTime, Active: true, Site: "https://example.com", RunAt: &runAt,
		CreatedAt: runAt.Add(-24 * time.Hour)}
	require.NoError(t, store.CreateSchedule(ctx, sc))

	fired, err := sched.Evaluate(ctx, runAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, starter.requests, 1)
	assert.Equal(t, crawler.StartRequest{Site: "https://example.com", IncludeWidgets: true}, starter.requests[0])

	got, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "scan-https://example.com", got.LastScanID)
	require.NotNil(t, got.LastRunAt)

	fired, err = sched.Evaluate(ctx, runAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Len(t, starter.requests, 1)
}

func TestEvaluate_RecurringUpdatesLastRun(t *testing.T) {
	starter := &fakeStarter{}
	sched, store := newTestScheduler(t, starter)
	ctx := context.Background()

	sc := recurring("2024-01-01T10:00:00Z", 1, "03:00")
	require.NoError(t, store.CreateSchedule(ctx, sc))

	fired, err := sched.Evaluate(ctx, utcTime("2024-01-01T23:00:00Z"))
	require.NoError(t, err)
	assert.Zero(t, fired)

	fired, err = sched.Evaluate(ctx, utcTime("2024-01-02T03:00:30Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	got, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, utcTime("2024-01-02T03:00:30Z").Equal(*got.LastRunAt))

	fired, err = sched.Evaluate(ctx, utcTime("2024-01-02T03:01:30Z"))
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestEvaluate_StartFailureLeavesScheduleDue(t *testing.T) {
	starter := &fakeStarter{err: errors.New("engine refused")}
	sched, store := newTestScheduler(t, starter)
	ctx := context.Background()

	runAt := utcTime("2024-05-01T09:00:00Z")
	sc := &models.Schedule{Type: models.ScheduleOneTime, Active: true, Site: "https://example.com", RunAt: &runAt}
	require.NoError(t, store.CreateSchedule(ctx, sc))

	fired, err := sched.Evaluate(ctx, runAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, fired)

	got, err := store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRunAt)

	starter.err = nil
	fired, err = sched.Evaluate(ctx, runAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "schedules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := New(store, store, &fakeStarter{}, "not a cron", nil)
	assert.Error(t, sched.Start(context.Background()))
}
