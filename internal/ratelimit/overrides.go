package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/clock"
)

var ErrExpiryInPast = errors.New("expiry must be in the future")

// OverrideStore is the persistence the admin flows need; *OverrideRepository
// satisfies it.
type OverrideStore interface {
	Create(ctx context.Context, o *Override) error
	Deactivate(ctx context.Context, id uuid.UUID, now time.Time) (*Override, error)
	List(ctx context.Context, includeInactive bool) ([]Override, error)
}

// OverrideService manages admin overrides and keeps the local cache coherent.
// Other replicas pick changes up when their cache entries age out.
type OverrideService struct {
	store OverrideStore
	cache *OverrideCache
	clock clock.Clock
}

// NewOverrideService creates a new OverrideService. cache may be nil.
func NewOverrideService(store OverrideStore, cache *OverrideCache, clk clock.Clock) *OverrideService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &OverrideService{store: store, cache: cache, clock: clk}
}

// CreateOverride stores a new active override for a target.
func (s *OverrideService) CreateOverride(ctx context.Context, req CreateOverrideRequest, createdBy string) (*Override, error) {
	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, ErrExpiryInPast
	}

	o := &Override{
		ID:           uuid.New(),
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		MaxPerMinute: req.MaxPerMinute,
		MaxPerDay:    req.MaxPerDay,
		Reason:       req.Reason,
		CreatedBy:    createdBy,
		ExpiresAt:    req.ExpiresAt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		if errors.Is(err, ErrOverrideExists) {
			return nil, err
		}
		return nil, fmt.Errorf("creating override: %w", err)
	}

	if s.cache != nil {
		s.cache.Invalidate(o.TargetType, o.TargetID)
	}
	slog.Info("rate limit override created",
		"id", o.ID, "target_type", o.TargetType, "target_id", o.TargetID,
		"max_per_minute", o.MaxPerMinute, "created_by", createdBy)
	return o, nil
}

// DeactivateOverride turns an override off. Deactivating an unknown or
// already inactive override returns ErrOverrideNotFound.
func (s *OverrideService) DeactivateOverride(ctx context.Context, id uuid.UUID) (*Override, error) {
	o, err := s.store.Deactivate(ctx, id, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(o.TargetType, o.TargetID)
	}
	slog.Info("rate limit override deactivated", "id", o.ID, "target_type", o.TargetType, "target_id", o.TargetID)
	return o, nil
}

func (s *OverrideService) ListOverrides(ctx context.Context, includeInactive bool) ([]Override, error) {
	return s.store.List(ctx, includeInactive)
}
