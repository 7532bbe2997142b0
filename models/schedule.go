package models

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "one_time"
	ScheduleRecurring ScheduleType = "recurring"
)

type Schedule struct {
	ID          string       `json:"id" db:"id"`
	Type        ScheduleType `json:"type" db:"type"`
	Active      bool         `json:"active" db:"active"`
	Site        string       `json:"site" db:"site"`
	Timezone    string       `json:"timezone" db:"timezone"`
	RunAt       *time.Time   `json:"runAt,omitempty" db:"run_at"`
	EveryDays   int          `json:"everyDays,omitempty" db:"every_days"`
	Time        string       `json:"time,omitempty" db:"time_of_day"`
	CreatedAt   time.Time    `json:"createdAt" db:"created_at"`
	LastRunAt   *time.Time   `json:"lastRunAt" db:"last_run_at"`
	LastScanID  string       `json:"lastScanId,omitempty" db:"last_scan_id"`
	Notify      bool         `json:"notify" db:"notify"`
	NotifyEmail string       `json:"notifyEmail,omitempty" db:"notify_email"`

	// NextRunAt is computed on read, never stored.
	NextRunAt *time.Time `json:"nextRunAt"`
}

// Location resolves the schedule timezone, defaulting to UTC.
func (s *Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, s.Timezone)
	}
	return loc, nil
}

func (s *Schedule) Validate() error {
	if err := ValidateSiteURL(s.Site); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	switch s.Type {
	case ScheduleOneTime:
		if s.RunAt == nil || s.RunAt.IsZero() {
			return fmt.Errorf("%w: runAt is required for one_time schedules", ErrInvalidSchedule)
		}
	case ScheduleRecurring:
		if s.EveryDays < 1 {
			return fmt.Errorf("%w: everyDays must be at least 1", ErrInvalidSchedule)
		}
		if _, _, err := ParseTimeOfDay(s.Time); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSchedule, s.Type)
	}
	if s.Notify && s.NotifyEmail != "" && !strings.Contains(s.NotifyEmail, "@") {
		return fmt.Errorf("%w: notifyEmail is not an email address", ErrInvalidSchedule)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time must be HH:MM, got %q", ErrInvalidSchedule, v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidSchedule, v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidSchedule, v)
	}
	return hour, minute, nil
}

// ParseRunAt accepts an RFC 3339 instant, or a wall-clock time without
// offset which is then interpreted in loc.
func ParseRunAt(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse runAt %q", ErrInvalidSchedule, v)
}

// ValidateSiteURL accepts absolute http(s) URLs with a host.
func ValidateSiteURL(site string) error {
	site = strings.TrimSpace(site)
	if site == "" {
		return errors.New("site is required")
	}
	u, err := url.Parse(site)
	if err != nil {
		return fmt.Errorf("invalid site URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("site URL must include a host")
	}
	return nil
}
