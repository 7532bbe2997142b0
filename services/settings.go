package services

import (
	"context"
	"sync"

	"linkscan/models"
	"linkscan/storage"
)

// SettingsService caches the scan defaults; they are read for every
// scheduled scan and written rarely.
type SettingsService struct {
	store storage.SettingsStore

	mu     sync.RWMutex
	cached *models.ScanDefaults
}

func NewSettingsService(store storage.SettingsStore) *SettingsService {
	return &SettingsService{store: store}
}

func (s *SettingsService) GetScanDefaults(ctx context.Context) (models.ScanDefaults, error) {
	s.mu.RLock()
	if s.cached != nil {
		d := *s.cached
		s.mu.RUnlock()
		return d, nil
	}
	s.mu.RUnlock()

	d, err := s.store.GetScanDefaults(ctx)
	if err != nil {
		return models.ScanDefaults{}, err
	}
	s.mu.Lock()
	s.cached = &d
	s.mu.Unlock()
	return d, nil
}

func (s *SettingsService) SaveScanDefaults(ctx context.Context, d models.ScanDefaults) error {
	if err := s.store.SaveScanDefaults(ctx, d); err != nil {
		return err
	}
	s.mu.Lock()
	s.cached = &d
	s.mu.Unlock()
	return nil
}
