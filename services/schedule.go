package services

import (
	"context"
	"time"

	"linkscan/models"
	"linkscan/scheduler"
	"linkscan/storage"
)

// ScheduleService validates schedules and fills the computed next run on
// every read.
type ScheduleService struct {
	store storage.ScheduleStore
	now   func() time.Time
}

func NewScheduleService(store storage.ScheduleStore) *ScheduleService {
	return &ScheduleService{store: store, now: time.Now}
}

func (s *ScheduleService) Create(ctx context.Context, sc *models.Schedule) error {
	normalizeSchedule(sc)
	if err := sc.Validate(); err != nil {
		return err
	}
	sc.ID = ""
	sc.CreatedAt = s.now().UTC()
	sc.LastRunAt = nil
	sc.LastScanID = ""
	if err := s.store.CreateSchedule(ctx, sc); err != nil {
		return err
	}
	scheduler.Annotate(sc, s.now())
	return nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	scheduler.Annotate(sc, s.now())
	return sc, nil
}

func (s *ScheduleService) List(ctx context.Context) ([]models.Schedule, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range schedules {
		scheduler.Annotate(&schedules[i], now)
	}
	return schedules, nil
}

// Update replaces the editable fields. Creation time and firing history are
// kept, so a recurring schedule stays on its original grid. A one_time
// schedule that has fired stays inactive whatever the update says.
func (s *ScheduleService) Update(ctx context.Context, sc *models.Schedule) error {
	existing, err := s.store.GetSchedule(ctx, sc.ID)
	if err != nil {
		return err
	}
	normalizeSchedule(sc)
	sc.CreatedAt = existing.CreatedAt
	sc.LastRunAt = existing.LastRunAt
	sc.LastScanID = existing.LastScanID
	if existing.Type == models.ScheduleOneTime && existing.LastRunAt != nil {
		sc.Active = false
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateSchedule(ctx, sc); err != nil {
		return err
	}
	scheduler.Annotate(sc, s.now())
	return nil
}

func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteSchedule(ctx, id)
}

func (s *ScheduleService) ClearHistory(ctx context.Context) (int64, error) {
	return s.store.ClearScheduleHistory(ctx)
}

// normalizeSchedule drops the fields that do not apply to the schedule type.
func normalizeSchedule(sc *models.Schedule) {
	switch sc.Type {
	case models.ScheduleOneTime:
		sc.EveryDays = 0
		sc.Time = ""
	case models.ScheduleRecurring:
		sc.RunAt = nil
	}
	if !sc.Notify {
		sc.NotifyEmail = ""
	}
}
