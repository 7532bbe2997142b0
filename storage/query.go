package storage

import (
	"strconv"
	"strings"

	"linkscan/models"
)

// SQL shared by both drivers is written with ? placeholders; the Postgres
// store rebinds it to $n.

const scanColumns = `id, site, status, started_at, finished_at, include_menus, include_widgets,
	total_links, processed_links, truncated, skipped_links, error,
	total, ok, broken, redirect, internal, external`

const statsQuery = `
	SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'broken' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'ok' AND redirected THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN type = 'internal' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN type = 'external' THEN 1 ELSE 0 END), 0)
	FROM scan_links WHERE scan_id = ?`

const scheduleColumns = `id, type, active, site, timezone, run_at, every_days, time_of_day,
	created_at, last_run_at, last_scan_id, notify, notify_email`

const terminalStatuses = `('completed', 'failed', 'cancelled')`

// sort expressions for the grouped projection, keyed by LinkQuery.SortBy
var groupedSortExpr = map[string]string{
	"url":    "l.url",
	"type":   "l.type",
	"status": "l.status",
	"source": "(SELECT MIN(s.source) FROM scan_link_sources s WHERE s.link_id = l.id)",
}

var occurrenceSortExpr = map[string]string{
	"url":    "l.url",
	"type":   "l.type",
	"status": "l.status",
	"source": "s.source",
}

type builtQuery struct {
	sql       string
	args      []any
	countSQL  string
	countArgs []any
}

func linkFilters(scanID string, q models.LinkQuery, searchSources string) (string, []any) {
	where := []string{"l.scan_id = ?"}
	args := []any{scanID}

	if q.Type != "" {
		where = append(where, "l.type = ?")
		args = append(args, string(q.Type))
	}
	if q.Status != "" {
		where = append(where, "l.status = ?")
		args = append(args, string(q.Status))
	}
	if q.Search != "" {
		pattern := likePattern(q.Search)
		where = append(where, `(LOWER(l.url) LIKE ? ESCAPE '\' OR `+searchSources+`)`)
		args = append(args, pattern, pattern)
	}
	return strings.Join(where, " AND "), args
}

func buildGroupedLinksQuery(scanID string, q models.LinkQuery) builtQuery {
	where, args := linkFilters(scanID, q,
		`EXISTS (SELECT 1 FROM scan_link_sources s WHERE s.link_id = l.id AND LOWER(s.source) LIKE ? ESCAPE '\')`)

	sql := `
		SELECT l.id, l.url, l.type, l.status, l.http_code, l.final_url, l.redirected, l.error, l.checked_at,
			(SELECT COUNT(*) FROM scan_link_sources s WHERE s.link_id = l.id)
		FROM scan_links l
		WHERE ` + where + `
		ORDER BY ` + groupedSortExpr[q.SortBy] + ` ` + sortDir(q.SortDir) + `, l.id ASC
		LIMIT ? OFFSET ?`

	return builtQuery{
		sql:       sql,
		args:      append(append([]any{}, args...), q.PerPage, q.Offset()),
		countSQL:  `SELECT COUNT(*) FROM scan_links l WHERE ` + where,
		countArgs: args,
	}
}

func buildOccurrencesQuery(scanID string, q models.LinkQuery) builtQuery {
	where, args := linkFilters(scanID, q, `LOWER(s.source) LIKE ? ESCAPE '\'`)

	sql := `
		SELECT s.id, l.url, l.type, l.status, l.http_code, s.source
		FROM scan_links l
		JOIN scan_link_sources s ON s.link_id = l.id
		WHERE ` + where + `
		ORDER BY ` + occurrenceSortExpr[q.SortBy] + ` ` + sortDir(q.SortDir) + `, s.id ASC
		LIMIT ? OFFSET ?`

	return builtQuery{
		sql:  sql,
		args: append(append([]any{}, args...), q.PerPage, q.Offset()),
		countSQL: `SELECT COUNT(*) FROM scan_links l JOIN scan_link_sources s ON s.link_id = l.id
			WHERE ` + where,
		countArgs: args,
	}
}

func buildScansQuery(f models.ScanFilter) builtQuery {
	where := "1 = 1"
	var args []any
	if f.Status != "" {
		where = "status = ?"
		args = append(args, string(f.Status))
	}
	return builtQuery{
		sql: `SELECT ` + scanColumns + ` FROM scans WHERE ` + where + `
			ORDER BY started_at DESC, id ASC LIMIT ? OFFSET ?`,
		args:      append(append([]any{}, args...), f.PerPage, f.Offset()),
		countSQL:  `SELECT COUNT(*) FROM scans WHERE ` + where,
		countArgs: args,
	}
}

// sourcesQuery loads the sources of the given links in discovery order.
func sourcesQuery(linkIDs []int64) (string, []any) {
	placeholders := make([]string, len(linkIDs))
	args := make([]any, len(linkIDs))
	for i, id := range linkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	return `SELECT link_id, source FROM scan_link_sources
		WHERE link_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id`, args
}

func sortDir(d models.SortDir) string {
	if d == models.SortDesc {
		return "DESC"
	}
	return "ASC"
}

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// rebind rewrites ? placeholders to $1, $2, ... for pgx.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
