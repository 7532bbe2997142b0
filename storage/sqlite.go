package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"linkscan/models"
)

const scanDefaultsKey = "scan_defaults"

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath. ":memory:" gives
// a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if dbPath == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps an in-memory database alive on a single connection
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		site TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		include_menus BOOLEAN NOT NULL DEFAULT TRUE,
		include_widgets BOOLEAN NOT NULL DEFAULT TRUE,
		total_links INTEGER NOT NULL DEFAULT 0,
		processed_links INTEGER NOT NULL DEFAULT 0,
		truncated BOOLEAN NOT NULL DEFAULT FALSE,
		skipped_links INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		total INTEGER NOT NULL DEFAULT 0,
		ok INTEGER NOT NULL DEFAULT 0,
		broken INTEGER NOT NULL DEFAULT 0,
		redirect INTEGER NOT NULL DEFAULT 0,
		internal INTEGER NOT NULL DEFAULT 0,
		external INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scan_links (
		id INTEGER PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		http_code INTEGER,
		final_url TEXT NOT NULL DEFAULT '',
		redirected BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		checked_at DATETIME NOT NULL,
		UNIQUE(scan_id, url)
	);

	CREATE TABLE IF NOT EXISTS scan_link_sources (
		id INTEGER PRIMARY KEY,
		link_id INTEGER NOT NULL REFERENCES scan_links(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		UNIQUE(link_id, source)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		site TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		run_at DATETIME,
		every_days INTEGER NOT NULL DEFAULT 0,
		time_of_day TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		last_run_at DATETIME,
		last_scan_id TEXT NOT NULL DEFAULT '',
		notify BOOLEAN NOT NULL DEFAULT FALSE,
		notify_email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);
	CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
	CREATE INDEX IF NOT EXISTS idx_links_scan_status ON scan_links(scan_id, status);
	CREATE INDEX IF NOT EXISTS idx_sources_link ON scan_link_sources(link_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(active);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Scans
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRow(row rowScanner) (*models.Scan, error) {
	var sc models.Scan
	var finished sql.NullTime
	err := row.Scan(&sc.ID, &sc.Site, &sc.Status, &sc.StartedAt, &finished, &sc.IncludeMenus, &sc.IncludeWidgets,
		&sc.TotalLinks, &sc.ProcessedLinks, &sc.Truncated, &sc.SkippedLinks, &sc.Error,
		&sc.Total, &sc.OK, &sc.Broken, &sc.Redirect, &sc.Internal, &sc.External)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		sc.FinishedAt = &t
	}
	return &sc, nil
}

func (s *SQLiteStore) CreateScan(ctx context.Context, scan *models.Scan) error {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.Status == "" {
		scan.Status = models.ScanStatusPending
	}
	scan.StartedAt = utc(scan.StartedAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, site, status, started_at, include_menus, include_widgets)
		VALUES (?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.Site, scan.Status, scan.StartedAt, scan.IncludeMenus, scan.IncludeWidgets)
	return err
}

func (s *SQLiteStore) MarkScanRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = 'running' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) UpdateScanProgress(ctx context.Context, id string, p models.ScanProgress) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET
			total_links = MAX(total_links, ?),
			processed_links = MAX(processed_links, ?),
			truncated = (truncated OR ?),
			skipped_links = MAX(skipped_links, ?)
		WHERE id = ? AND status = 'running'`,
		p.TotalLinks, p.ProcessedLinks, p.Truncated, p.SkippedLinks, id)
	return err
}

func (s *SQLiteStore) AppendLink(ctx context.Context, link *models.ScanLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireRunning(ctx, tx, link.ScanID); err != nil {
		return err
	}

	link.CheckedAt = utc(link.CheckedAt)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO scan_links (scan_id, url, type, status, http_code, final_url, redirected, error, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id, url) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			http_code = excluded.http_code,
			final_url = excluded.final_url,
			redirected = excluded.redirected,
			error = excluded.error,
			checked_at = excluded.checked_at
		RETURNING id`,
		link.ScanID, link.URL, link.Type, link.Status, link.HTTPCode, link.FinalURL, link.Redirected,
		link.Error, link.CheckedAt,
	).Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}

	for _, src := range link.Sources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scan_link_sources (link_id, source) VALUES (?, ?)
			ON CONFLICT(link_id, source) DO NOTHING`, link.ID, src); err != nil {
			return fmt.Errorf("insert source: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) AddLinkSource(ctx context.Context, scanID, url, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := requireRunning(ctx, tx, scanID); err != nil {
		return err
	}

	var linkID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM scan_links WHERE scan_id = ? AND url = ?`, scanID, url).Scan(&linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scan_link_sources (link_id, source) VALUES (?, ?)
		ON CONFLICT(link_id, source) DO NOTHING`, linkID, source); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRunning(ctx context.Context, tx *sql.Tx, scanID string) error {
	var status models.ScanStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM scans WHERE id = ?`, scanID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != models.ScanStatusRunning {
		return ErrScanClosed
	}
	return nil
}

func (s *SQLiteStore) FinalizeScan(ctx context.Context, id string, out models.ScanOutcome) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var st models.ScanStats
	if err := tx.QueryRowContext(ctx, statsQuery, id).Scan(
		&st.Total, &st.OK, &st.Broken, &st.Redirect, &st.Internal, &st.External); err != nil {
		return false, fmt.Errorf("compute stats: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE scans SET
			status = ?, finished_at = ?, error = ?,
			total_links = MAX(total_links, ?, ?),
			processed_links = MAX(processed_links, ?),
			truncated = (truncated OR ?),
			skipped_links = MAX(skipped_links, ?),
			total = ?, ok = ?, broken = ?, redirect = ?, internal = ?, external = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		out.Status, utc(out.FinishedAt), out.Error,
		out.Progress.TotalLinks, out.Progress.ProcessedLinks,
		out.Progress.ProcessedLinks,
		out.Progress.Truncated,
		out.Progress.SkippedLinks,
		st.Total, st.OK, st.Broken, st.Redirect, st.Internal, st.External,
		id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM scans WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := scanScanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *SQLiteStore) ListScans(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error) {
	f.Normalize()
	q := buildScansQuery(f)

	var total int
	if err := s.db.QueryRowContext(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	scans := []models.Scan{}
	for rows.Next() {
		sc, err := scanScanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		scans = append(scans, *sc)
	}
	return scans, total, rows.Err()
}

func (s *SQLiteStore) ScanStats(ctx context.Context, id string) (models.ScanStats, error) {
	var st models.ScanStats
	err := s.db.QueryRowContext(ctx, statsQuery, id).Scan(
		&st.Total, &st.OK, &st.Broken, &st.Redirect, &st.Internal, &st.External)
	return st, err
}

func (s *SQLiteStore) ListLinks(ctx context.Context, scanID string, lq models.LinkQuery) ([]models.ScanLink, int, error) {
	lq.Normalize()
	q := buildGroupedLinksQuery(scanID, lq)

	var total int
	if err := s.db.QueryRowContext(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	links := []models.ScanLink{}
	for rows.Next() {
		var l models.ScanLink
		var code sql.NullInt64
		if err := rows.Scan(&l.ID, &l.URL, &l.Type, &l.Status, &code, &l.FinalURL, &l.Redirected,
			&l.Error, &l.CheckedAt, &l.SourceCount); err != nil {
			return nil, 0, err
		}
		l.ScanID = scanID
		l.HTTPCode = nullIntPtr(code)
		l.Sources = []string{}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := s.loadSources(ctx, links); err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

func (s *SQLiteStore) loadSources(ctx context.Context, links []models.ScanLink) error {
	if len(links) == 0 {
		return nil
	}
	idx := make(map[int64]int, len(links))
	ids := make([]int64, len(links))
	for i, l := range links {
		idx[l.ID] = i
		ids[i] = l.ID
	}

	query, args := sourcesQuery(ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var linkID int64
		var source string
		if err := rows.Scan(&linkID, &source); err != nil {
			return err
		}
		i := idx[linkID]
		links[i].Sources = append(links[i].Sources, source)
	}
	return rows.Err()
}

func (s *SQLiteStore) ListLinkOccurrences(ctx context.Context, scanID string, lq models.LinkQuery) ([]models.LinkOccurrence, int, error) {
	lq.Normalize()
	q := buildOccurrencesQuery(scanID, lq)

	var total int
	if err := s.db.QueryRowContext(ctx, q.countSQL, q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []models.LinkOccurrence{}
	for rows.Next() {
		var o models.LinkOccurrence
		var code sql.NullInt64
		if err := rows.Scan(&o.ID, &o.URL, &o.Type, &o.Status, &code, &o.Source); err != nil {
			return nil, 0, err
		}
		o.HTTPCode = nullIntPtr(code)
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (s *SQLiteStore) DeleteScan(ctx context.Context, id string) error {
	n, err := s.deleteScansWhere(ctx, `id = ?`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ClearScans(ctx context.Context) (int64, error) {
	return s.deleteScansWhere(ctx, `status IN `+terminalStatuses)
}

func (s *SQLiteStore) DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteScansWhere(ctx, `status IN `+terminalStatuses+` AND started_at < ?`, utc(cutoff))
}

// deleteScansWhere removes matching scans together with their links and sources.
func (s *SQLiteStore) deleteScansWhere(ctx context.Context, cond string, args ...any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	sub := `SELECT id FROM scans WHERE ` + cond
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_link_sources WHERE link_id IN
		(SELECT id FROM scan_links WHERE scan_id IN (`+sub+`))`, args...); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_links WHERE scan_id IN (`+sub+`)`, args...); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE `+cond, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *SQLiteStore) RecoverInterrupted(ctx context.Context, at time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scans WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return recoverScans(ctx, s, ids, at)
}

// recoverScans is shared by both stores.
func recoverScans(ctx context.Context, store ScanStore, ids []string, at time.Time) (int64, error) {
	var n int64
	for _, id := range ids {
		ok, err := store.FinalizeScan(ctx, id, models.ScanOutcome{
			Status:     models.ScanStatusFailed,
			FinishedAt: at,
			Error:      "interrupted",
		})
		if err != nil {
			return n, fmt.Errorf("recover scan %s: %w", id, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Schedules
// =============================================================================

func scanScheduleRow(row rowScanner) (*models.Schedule, error) {
	var sc models.Schedule
	var runAt, lastRun sql.NullTime
	err := row.Scan(&sc.ID, &sc.Type, &sc.Active, &sc.Site, &sc.Timezone, &runAt, &sc.EveryDays, &sc.Time,
		&sc.CreatedAt, &lastRun, &sc.LastScanID, &sc.Notify, &sc.NotifyEmail)
	if err != nil {
		return nil, err
	}
	sc.RunAt = nullTimePtr(runAt)
	sc.LastRunAt = nullTimePtr(lastRun)
	return &sc, nil
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	sc.CreatedAt = utc(sc.CreatedAt)
	sc.RunAt = utcPtr(sc.RunAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Type, sc.Active, sc.Site, sc.Timezone, sc.RunAt, sc.EveryDays, sc.Time,
		sc.CreatedAt, utcPtr(sc.LastRunAt), sc.LastScanID, sc.Notify, sc.NotifyEmail)
	return err
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanScheduleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at DESC, id`)
}

func (s *SQLiteStore) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active ORDER BY created_at, id`)
}

func (s *SQLiteStore) querySchedules(ctx context.Context, query string, args ...any) ([]models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []models.Schedule{}
	for rows.Next() {
		sc, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	sc.RunAt = utcPtr(sc.RunAt)
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET type = ?, active = ?, site = ?, timezone = ?, run_at = ?, every_days = ?,
			time_of_day = ?, notify = ?, notify_email = ?
		WHERE id = ?`,
		sc.Type, sc.Active, sc.Site, sc.Timezone, sc.RunAt, sc.EveryDays, sc.Time, sc.Notify, sc.NotifyEmail, sc.ID)
	return expectOne(res, err)
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return expectOne(res, err)
}

func (s *SQLiteStore) ClearScheduleHistory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM schedules WHERE type = 'one_time' AND NOT active AND last_run_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MarkScheduleFired(ctx context.Context, id string, firedAt time.Time, scanID string, deactivate bool) (bool, error) {
	query := `UPDATE schedules SET last_run_at = ?, last_scan_id = ? WHERE id = ? AND active`
	if deactivate {
		query = `UPDATE schedules SET active = FALSE, last_run_at = ?, last_scan_id = ? WHERE id = ? AND active`
	}
	res, err := s.db.ExecContext(ctx, query, utc(firedAt), scanID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// Settings
// =============================================================================

func (s *SQLiteStore) GetScanDefaults(ctx context.Context) (models.ScanDefaults, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, scanDefaultsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultScanDefaults(), nil
	}
	if err != nil {
		return models.ScanDefaults{}, err
	}
	return decodeScanDefaults(raw)
}

func (s *SQLiteStore) SaveScanDefaults(ctx context.Context, d models.ScanDefaults) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scanDefaultsKey, string(raw), time.Now().UTC())
	return err
}

func decodeScanDefaults(raw string) (models.ScanDefaults, error) {
	d := models.DefaultScanDefaults()
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return d, fmt.Errorf("decode scan defaults: %w", err)
	}
	return d, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

var _ Store = (*SQLiteStore)(nil)
