package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkscan/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		site TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
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
		id BIGSERIAL PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		http_code INTEGER,
		final_url TEXT NOT NULL DEFAULT '',
		redirected BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		checked_at TIMESTAMPTZ NOT NULL,
		UNIQUE(scan_id, url)
	);

	CREATE TABLE IF NOT EXISTS scan_link_sources (
		id BIGSERIAL PRIMARY KEY,
		link_id BIGINT NOT NULL REFERENCES scan_links(id) ON DELETE CASCADE,
		source TEXT NOT NULL,
		UNIQUE(link_id, source)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		site TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		run_at TIMESTAMPTZ,
		every_days INTEGER NOT NULL DEFAULT 0,
		time_of_day TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		last_run_at TIMESTAMPTZ,
		last_scan_id TEXT NOT NULL DEFAULT '',
		notify BOOLEAN NOT NULL DEFAULT FALSE,
		notify_email TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_started ON scans(started_at);
	CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
	CREATE INDEX IF NOT EXISTS idx_links_scan_status ON scan_links(scan_id, status);
	CREATE INDEX IF NOT EXISTS idx_sources_link ON scan_link_sources(link_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(active);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Scans
// =============================================================================

func (s *PostgresStore) CreateScan(ctx context.Context, scan *models.Scan) error {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.Status == "" {
		scan.Status = models.ScanStatusPending
	}
	scan.StartedAt = utc(scan.StartedAt)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scans (id, site, status, started_at, include_menus, include_widgets)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		scan.ID, scan.Site, scan.Status, scan.StartedAt, scan.IncludeMenus, scan.IncludeWidgets)
	return err
}

func (s *PostgresStore) MarkScanRunning(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = 'running' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateScanProgress(ctx context.Context, id string, p models.ScanProgress) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scans SET
			total_links = GREATEST(total_links, $2),
			processed_links = GREATEST(processed_links, $3),
			truncated = (truncated OR $4),
			skipped_links = GREATEST(skipped_links, $5)
		WHERE id = $1 AND status = 'running'`,
		id, p.TotalLinks, p.ProcessedLinks, p.Truncated, p.SkippedLinks)
	return err
}

func (s *PostgresStore) AppendLink(ctx context.Context, link *models.ScanLink) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgRequireRunning(ctx, tx, link.ScanID); err != nil {
		return err
	}

	link.CheckedAt = utc(link.CheckedAt)
	err = tx.QueryRow(ctx, `
		INSERT INTO scan_links (scan_id, url, type, status, http_code, final_url, redirected, error, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (scan_id, url) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			http_code = EXCLUDED.http_code,
			final_url = EXCLUDED.final_url,
			redirected = EXCLUDED.redirected,
			error = EXCLUDED.error,
			checked_at = EXCLUDED.checked_at
		RETURNING id`,
		link.ScanID, link.URL, link.Type, link.Status, link.HTTPCode, link.FinalURL, link.Redirected,
		link.Error, link.CheckedAt,
	).Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}

	if len(link.Sources) > 0 {
		batch := &pgx.Batch{}
		for _, src := range link.Sources {
			batch.Queue(`
				INSERT INTO scan_link_sources (link_id, source) VALUES ($1, $2)
				ON CONFLICT (link_id, source) DO NOTHING`, link.ID, src)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert sources: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) AddLinkSource(ctx context.Context, scanID, url, source string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgRequireRunning(ctx, tx, scanID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO scan_link_sources (link_id, source)
		SELECT id, $3::text FROM scan_links WHERE scan_id = $1 AND url = $2
		ON CONFLICT (link_id, source) DO NOTHING`, scanID, url, source)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM scan_links WHERE scan_id = $1 AND url = $2`, scanID, url).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// pgRequireRunning locks the scan row so a concurrent finalize waits for
// in-flight appends.
func pgRequireRunning(ctx context.Context, tx pgx.Tx, scanID string) error {
	var status models.ScanStatus
	err := tx.QueryRow(ctx, `SELECT status FROM scans WHERE id = $1 FOR SHARE`, scanID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) FinalizeScan(ctx context.Context, id string, out models.ScanOutcome) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var status models.ScanStatus
	err = tx.QueryRow(ctx, `SELECT status FROM scans WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if status.IsTerminal() {
		return false, nil
	}

	var st models.ScanStats
	if err := tx.QueryRow(ctx, rebind(statsQuery), id).Scan(
		&st.Total, &st.OK, &st.Broken, &st.Redirect, &st.Internal, &st.External); err != nil {
		return false, fmt.Errorf("compute stats: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE scans SET
			status = $2, finished_at = $3, error = $4,
			total_links = GREATEST(total_links, $5, $6),
			processed_links = GREATEST(processed_links, $6),
			truncated = (truncated OR $7),
			skipped_links = GREATEST(skipped_links, $8),
			total = $9, ok = $10, broken = $11, redirect = $12, internal = $13, external = $14
		WHERE id = $1`,
		id, out.Status, utc(out.FinishedAt), out.Error,
		out.Progress.TotalLinks, out.Progress.ProcessedLinks, out.Progress.Truncated, out.Progress.SkippedLinks,
		st.Total, st.OK, st.Broken, st.Redirect, st.Internal, st.External)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func pgScanScan(row pgx.Row) (*models.Scan, error) {
	var sc models.Scan
	err := row.Scan(&sc.ID, &sc.Site, &sc.Status, &sc.StartedAt, &sc.FinishedAt, &sc.IncludeMenus, &sc.IncludeWidgets,
		&sc.TotalLinks, &sc.ProcessedLinks, &sc.Truncated, &sc.SkippedLinks, &sc.Error,
		&sc.Total, &sc.OK, &sc.Broken, &sc.Redirect, &sc.Internal, &sc.External)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*models.Scan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, id)
	sc, err := pgScanScan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *PostgresStore) ListScans(ctx context.Context, f models.ScanFilter) ([]models.Scan, int, error) {
	f.Normalize()
	q := buildScansQuery(f)

	var total int
	if err := s.pool.QueryRow(ctx, rebind(q.countSQL), q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, rebind(q.sql), q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	scans := []models.Scan{}
	for rows.Next() {
		sc, err := pgScanScan(rows)
		if err != nil {
			return nil, 0, err
		}
		scans = append(scans, *sc)
	}
	return scans, total, rows.Err()
}

func (s *PostgresStore) ScanStats(ctx context.Context, id string) (models.ScanStats, error) {
	var st models.ScanStats
	err := s.pool.QueryRow(ctx, rebind(statsQuery), id).Scan(
		&st.Total, &st.OK, &st.Broken, &st.Redirect, &st.Internal, &st.External)
	return st, err
}

func (s *PostgresStore) ListLinks(ctx context.Context, scanID string, lq models.LinkQuery) ([]models.ScanLink, int, error) {
	lq.Normalize()
	q := buildGroupedLinksQuery(scanID, lq)

	var total int
	if err := s.pool.QueryRow(ctx, rebind(q.countSQL), q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, rebind(q.sql), q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	links := []models.ScanLink{}
	idx := map[int64]int{}
	for rows.Next() {
		var l models.ScanLink
		if err := rows.Scan(&l.ID, &l.URL, &l.Type, &l.Status, &l.HTTPCode, &l.FinalURL, &l.Redirected,
			&l.Error, &l.CheckedAt, &l.SourceCount); err != nil {
			return nil, 0, err
		}
		l.ScanID = scanID
		l.Sources = []string{}
		idx[l.ID] = len(links)
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(links) == 0 {
		return links, total, nil
	}

	ids := make([]int64, len(links))
	for i, l := range links {
		ids[i] = l.ID
	}
	query, args := sourcesQuery(ids)
	srcRows, err := s.pool.Query(ctx, rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer srcRows.Close()

	for srcRows.Next() {
		var linkID int64
		var source string
		if err := srcRows.Scan(&linkID, &source); err != nil {
			return nil, 0, err
		}
		i := idx[linkID]
		links[i].Sources = append(links[i].Sources, source)
	}
	return links, total, srcRows.Err()
}

func (s *PostgresStore) ListLinkOccurrences(ctx context.Context, scanID string, lq models.LinkQuery) ([]models.LinkOccurrence, int, error) {
	lq.Normalize()
	q := buildOccurrencesQuery(scanID, lq)

	var total int
	if err := s.pool.QueryRow(ctx, rebind(q.countSQL), q.countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, rebind(q.sql), q.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []models.LinkOccurrence{}
	for rows.Next() {
		var o models.LinkOccurrence
		if err := rows.Scan(&o.ID, &o.URL, &o.Type, &o.Status, &o.HTTPCode, &o.Source); err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (s *PostgresStore) DeleteScan(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ON DELETE CASCADE removes links and sources.
func (s *PostgresStore) ClearScans(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE status IN `+terminalStatuses)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scans WHERE status IN `+terminalStatuses+` AND started_at < $1`, utc(cutoff))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RecoverInterrupted(ctx context.Context, at time.Time) (int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM scans WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	return recoverScans(ctx, s, ids, at)
}

// =============================================================================
// Schedules
// =============================================================================

func pgScanSchedule(row pgx.Row) (*models.Schedule, error) {
	var sc models.Schedule
	err := row.Scan(&sc.ID, &sc.Type, &sc.Active, &sc.Site, &sc.Timezone, &sc.RunAt, &sc.EveryDays, &sc.Time,
		&sc.CreatedAt, &sc.LastRunAt, &sc.LastScanID, &sc.Notify, &sc.NotifyEmail)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	sc.CreatedAt = utc(sc.CreatedAt)
	sc.RunAt = utcPtr(sc.RunAt)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sc.ID, sc.Type, sc.Active, sc.Site, sc.Timezone, sc.RunAt, sc.EveryDays, sc.Time,
		sc.CreatedAt, utcPtr(sc.LastRunAt), sc.LastScanID, sc.Notify, sc.NotifyEmail)
	return err
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	sc, err := pgScanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY created_at DESC, id`)
}

func (s *PostgresStore) ListActiveSchedules(ctx context.Context) ([]models.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active ORDER BY created_at, id`)
}

func (s *PostgresStore) querySchedules(ctx context.Context, query string) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []models.Schedule{}
	for rows.Next() {
		sc, err := pgScanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *PostgresStore) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	sc.RunAt = utcPtr(sc.RunAt)
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules SET type = $2, active = $3, site = $4, timezone = $5, run_at = $6, every_days = $7,
			time_of_day = $8, notify = $9, notify_email = $10
		WHERE id = $1`,
		sc.ID, sc.Type, sc.Active, sc.Site, sc.Timezone, sc.RunAt, sc.EveryDays, sc.Time, sc.Notify, sc.NotifyEmail)
	return pgExpectOne(tag, err)
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return pgExpectOne(tag, err)
}

func (s *PostgresStore) ClearScheduleHistory(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM schedules WHERE type = 'one_time' AND NOT active AND last_run_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) MarkScheduleFired(ctx context.Context, id string, firedAt time.Time, scanID string, deactivate bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules SET
			active = CASE WHEN $4 THEN FALSE ELSE active END,
			last_run_at = $2, last_scan_id = $3
		WHERE id = $1 AND active`,
		id, utc(firedAt), scanID, deactivate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// =============================================================================
// Settings
// =============================================================================

func (s *PostgresStore) GetScanDefaults(ctx context.Context) (models.ScanDefaults, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value::text FROM settings WHERE key = $1`, scanDefaultsKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultScanDefaults(), nil
	}
	if err != nil {
		return models.ScanDefaults{}, err
	}
	return decodeScanDefaults(raw)
}

func (s *PostgresStore) SaveScanDefaults(ctx context.Context, d models.ScanDefaults) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		scanDefaultsKey, string(raw), time.Now().UTC())
	return err
}

func pgExpectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
