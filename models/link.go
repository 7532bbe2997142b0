package models

import (
	"strings"
	"time"
)

type LinkType string

const (
	LinkTypeInternal LinkType = "internal"
	LinkTypeExternal LinkType = "external"
)

func (t LinkType) Valid() bool {
	return t == LinkTypeInternal || t == LinkTypeExternal
}

type LinkStatus string

const (
	LinkStatusOK     LinkStatus = "ok"
	LinkStatusBroken LinkStatus = "broken"
)

func (s LinkStatus) Valid() bool {
	return s == LinkStatusOK || s == LinkStatusBroken
}

// ScanLink is the canonical per-URL record of a scan. Every referring
// location is kept in Sources, in discovery order.
type ScanLink struct {
	ID          int64      `json:"id" db:"id"`
	ScanID      string     `json:"-" db:"scan_id"`
	URL         string     `json:"url" db:"url"`
	Type        LinkType   `json:"type" db:"type"`
	Status      LinkStatus `json:"status" db:"status"`
	HTTPCode    *int       `json:"httpCode" db:"http_code"`
	FinalURL    string     `json:"finalUrl,omitempty" db:"final_url"`
	Redirected  bool       `json:"redirected" db:"redirected"`
	Error       string     `json:"error,omitempty" db:"error"`
	CheckedAt   time.Time  `json:"checkedAt" db:"checked_at"`
	Sources     []string   `json:"sources"`
	SourceCount int        `json:"sourceCount"`
}

// LinkOccurrence is the ungrouped projection: one row per (URL, source).
type LinkOccurrence struct {
	ID       int64      `json:"id"`
	URL      string     `json:"url"`
	Type     LinkType   `json:"type"`
	Status   LinkStatus `json:"status"`
	HTTPCode *int       `json:"httpCode"`
	Source   string     `json:"source"`
}

type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

var linkSortKeys = map[string]bool{
	"url":    true,
	"type":   true,
	"status": true,
	"source": true,
}

type LinkQuery struct {
	Type    LinkType
	Status  LinkStatus
	Search  string
	SortBy  string
	SortDir SortDir
	Page    int
	PerPage int
	Grouped bool
}

// Normalize applies defaults and drops values that are not recognised.
func (q *LinkQuery) Normalize() {
	q.Page, q.PerPage = normalizePage(q.Page, q.PerPage, DefaultLinksPerPage)
	q.SortBy = strings.ToLower(strings.TrimSpace(q.SortBy))
	if !linkSortKeys[q.SortBy] {
		q.SortBy = "url"
	}
	if SortDir(strings.ToLower(string(q.SortDir))) == SortDesc {
		q.SortDir = SortDesc
	} else {
		q.SortDir = SortAsc
	}
	if !q.Type.Valid() {
		q.Type = ""
	}
	if !q.Status.Valid() {
		q.Status = ""
	}
	q.Search = strings.TrimSpace(q.Search)
}

func (q LinkQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}
