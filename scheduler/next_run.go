package scheduler

import (
	"time"

	"linkscan/models"
)

// Recurring schedules fire on a fixed grid: the creation day at the
// schedule's time of day, then every EveryDays calendar days, all in the
// schedule's timezone. A missed firing is caught up once and the grid never
// shifts, whatever time the catch-up happened at.

// NextRun is the next time s fires after now, or nil if it never will.
// An active one_time schedule whose runAt has passed reports runAt.
func NextRun(s *models.Schedule, now time.Time) (*time.Time, error) {
	if !s.Active {
		return nil, nil
	}
	switch s.Type {
	case models.ScheduleOneTime:
		if s.RunAt == nil {
			return nil, nil
		}
		t := *s.RunAt
		return &t, nil
	case models.ScheduleRecurring:
		g, err := newGrid(s)
		if err != nil {
			return nil, err
		}
		k := g.indexAtOrBefore(now) + 1
		next := g.at(k)
		for !next.After(now) {
			k++
			next = g.at(k)
		}
		return &next, nil
	}
	return nil, models.ErrInvalidSchedule
}

// Due reports whether s should fire at now.
func Due(s *models.Schedule, now time.Time) (bool, error) {
	if !s.Active {
		return false, nil
	}
	switch s.Type {
	case models.ScheduleOneTime:
		return s.RunAt != nil && !now.Before(*s.RunAt), nil
	case models.ScheduleRecurring:
		g, err := newGrid(s)
		if err != nil {
			return false, err
		}
		k := g.indexAtOrBefore(now)
		if k < 0 {
			return false, nil
		}
		last := g.at(k)
		since := s.CreatedAt
		if s.LastRunAt != nil && s.LastRunAt.After(since) {
			since = *s.LastRunAt
		}
		return last.After(since), nil
	}
	return false, models.ErrInvalidSchedule
}

// Annotate fills NextRunAt for API responses.
func Annotate(s *models.Schedule, now time.Time) {
	next, err := NextRun(s, now)
	if err != nil {
		s.NextRunAt = nil
		return
	}
	s.NextRunAt = next
}

type grid struct {
	loc          *time.Location
	year         int
	month        time.Month
	day          int
	hour, minute int
	every        int
}

func newGrid(s *models.Schedule) (grid, error) {
	loc, err := s.Location()
	if err != nil {
		return grid{}, err
	}
	hour, minute, err := models.ParseTimeOfDay(s.Time)
	if err != nil {
		return grid{}, err
	}
	every := s.EveryDays
	if every < 1 {
		every = 1
	}
	created := s.CreatedAt.In(loc)
	return grid{
		loc:    loc,
		year:   created.Year(),
		month:  created.Month(),
		day:    created.Day(),
		hour:   hour,
		minute: minute,
		every:  every,
	}, nil
}

// at is the k-th firing. time.Date normalizes the day overflow and keeps the
// wall clock across DST changes.
func (g grid) at(k int) time.Time {
	return time.Date(g.year, g.month, g.day+k*g.every, g.hour, g.minute, 0, 0, g.loc)
}

// indexAtOrBefore is the largest k with at(k) <= t, or -1.
func (g grid) indexAtOrBefore(t time.Time) int {
	local := t.In(g.loc)
	start := time.Date(g.year, g.month, g.day, 0, 0, 0, 0, time.UTC)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(start).Hours() / 24)
	if days < 0 {
		return -1
	}
	k := days / g.every
	for k >= 0 && g.at(k).After(t) {
		k--
	}
	return k
}
