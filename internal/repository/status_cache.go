package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/pkg/cache"
)

var (
	botsKey = cache.Key("status", "bots")
	riskKey = cache.Key("status", "risk")
)

// CachedStatus keeps observer snapshots in a cache.Service (Redis or in-process).
type CachedStatus struct {
	cache cache.Service
	ttl   time.Duration
}

var _ repository.StatusCache = (*CachedStatus)(nil)

// NewCachedStatus stores snapshots for ttl; a stale arena therefore reads as a miss.
func NewCachedStatus(c cache.Service, ttl time.Duration) *CachedStatus {
	return &CachedStatus{cache: c, ttl: ttl}
}

func (s *CachedStatus) PutBots(ctx context.Context, bots []models.BotState) error {
	if err := s.cache.Set(ctx, botsKey, bots, s.ttl); err != nil {
		return fmt.Errorf("cache bot states: %w", err)
	}
	return nil
}

func (s *CachedStatus) Bots(ctx context.Context) ([]models.BotState, error) {
	var bots []models.BotState
	if err := s.get(ctx, botsKey, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

func (s *CachedStatus) PutRisk(ctx context.Context, st models.RiskStatus) error {
	if err := s.cache.Set(ctx, riskKey, st, s.ttl); err != nil {
		return fmt.Errorf("cache risk status: %w", err)
	}
	return nil
}

func (s *CachedStatus) Risk(ctx context.Context) (models.RiskStatus, error) {
	var st models.RiskStatus
	err := s.get(ctx, riskKey, &st)
	return st, err
}

func (s *CachedStatus) get(ctx context.Context, key string, dest interface{}) error {
	err := s.cache.Get(ctx, key, dest)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return fmt.Errorf("%s: %w", key, models.ErrNotCached)
	case err != nil:
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}
