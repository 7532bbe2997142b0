package models

import "time"

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusPending, ScanStatusRunning, ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

type Scan struct {
	ID             string     `json:"id" db:"id"`
	Site           string     `json:"site" db:"site"`
	Status         ScanStatus `json:"status" db:"status"`
	StartedAt      time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt     *time.Time `json:"finishedAt" db:"finished_at"`
	IncludeMenus   bool       `json:"includeMenus" db:"include_menus"`
	IncludeWidgets bool       `json:"includeWidgets" db:"include_widgets"`
	TotalLinks     int        `json:"totalLinks" db:"total_links"`
	ProcessedLinks int        `json:"processedLinks" db:"processed_links"`
	Truncated      bool       `json:"truncated" db:"truncated"`
	SkippedLinks   int        `json:"skippedLinks" db:"skipped_links"`
	Error          string     `json:"error,omitempty" db:"error"`
	ScanStats
}

// ScanStats are the aggregate counts over a scan's links. They are only
// authoritative once the scan is terminal.
type ScanStats struct {
	Total    int `json:"total" db:"total"`
	OK       int `json:"ok" db:"ok"`
	Broken   int `json:"broken" db:"broken"`
	Redirect int `json:"redirect" db:"redirect"`
	Internal int `json:"internal" db:"internal"`
	External int `json:"external" db:"external"`
}

// DurationSeconds is nil until the scan has finished.
func (s *Scan) DurationSeconds() *int64 {
	if s.FinishedAt == nil {
		return nil
	}
	d := int64(s.FinishedAt.Sub(s.StartedAt).Seconds())
	return &d
}

// ScanProgress is the mutable part of a running scan.
type ScanProgress struct {
	TotalLinks     int  `json:"totalLinks"`
	ProcessedLinks int  `json:"processedLinks"`
	Truncated      bool `json:"truncated"`
	SkippedLinks   int  `json:"skippedLinks"`
}

// ScanOutcome finalizes a scan. Stats are recomputed by the store from the
// recorded links.
type ScanOutcome struct {
	Status     ScanStatus
	FinishedAt time.Time
	Error      string
	Progress   ScanProgress
}

type ScanFilter struct {
	Status  ScanStatus
	Page    int
	PerPage int
}

const (
	DefaultScansPerPage = 20
	DefaultLinksPerPage = 50
	MaxPerPage          = 500
)

// Normalize clamps paging to sane values.
func (f *ScanFilter) Normalize() {
	f.Page, f.PerPage = normalizePage(f.Page, f.PerPage, DefaultScansPerPage)
}

func (f ScanFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

func normalizePage(page, perPage, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = def
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
