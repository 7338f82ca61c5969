package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/metrics"
)

var (
	ErrTierNotFound    = errors.New("tier not found")
	ErrUnknownScanType = errors.New("unknown scan type")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

// Service tracks per-user call allowances and scan budgets.
type Service struct {
	store Store
	clock clock.Clock
}

// NewService creates a new quota Service.
func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, clock: clk}
}

// GetOrCreateQuota returns the user's quota row, creating a zeroed one on first access.
func (s *Service) GetOrCreateQuota(ctx context.Context, userID uuid.UUID) (*Quota, error) {
	var out *Quota
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := tx.LockQuota(ctx, userID, s.clock.Now())
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting quota: %w", err)
	}
	return out, nil
}

// CheckAndResetQuotas zeroes the daily counters when the calendar day has
// changed since the last reset, and the monthly counters when the month has.
func (s *Service) CheckAndResetQuotas(ctx context.Context, userID uuid.UUID) (*Quota, error) {
	var out *Quota
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := s.lockAndReset(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resetting quota: %w", err)
	}
	return out, nil
}

// ConsumeScan charges a scan against the user's daily and monthly budgets.
// Refusals are reported in the result, not as errors, and leave the
// counters untouched.
func (s *Service) ConsumeScan(ctx context.Context, userID uuid.UUID, scanType ScanType) (*ScanResult, error) {
	if !scanType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScanType, scanType)
	}

	var res *ScanResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := s.lockAndReset(ctx, tx, userID)
		if err != nil {
			return err
		}

		tier, err := s.resolveTier(ctx, tx, q)
		if err != nil {
			return err
		}

		cost := tier.ScanCost(scanType)
		res = &ScanResult{
			ScanType: scanType,
			Cost:     cost,
			Tier:     tier.Name,
		}

		switch {
		case scanType == ScanGTmetrix && !tier.GTmetrixEnabled:
			res.Reason = ReasonFeatureNotAllowed
		case q.DailyUsed+cost > tier.DailyLimit:
			res.Reason = ReasonDailyLimitReached
		case q.MonthlyUsed+cost > tier.MonthlyLimit:
			res.Reason = ReasonMonthlyLimitReached
		default:
			q.DailyUsed += cost
			q.MonthlyUsed += cost
			q.UsedCalls += cost
			q.UpdatedAt = s.clock.Now()
			if err := tx.SaveQuota(ctx, q); err != nil {
				return err
			}
			res.Allowed = true
		}

		res.DailyRemaining = remaining(tier.DailyLimit, q.DailyUsed)
		res.MonthlyRemaining = remaining(tier.MonthlyLimit, q.MonthlyUsed)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consuming scan: %w", err)
	}

	outcome := "allowed"
	if !res.Allowed {
		outcome = string(res.Reason)
	}
	metrics.ScansTotal.WithLabelValues(string(scanType), outcome).Inc()
	return res, nil
}

// ConsumeAPICall always permits the call. It is charged to the subscription
// allowance while that lasts, then to the oldest call pack with calls left,
// and past both it overdraws the subscription. A usage row is written in the
// same transaction.
func (s *Service) ConsumeAPICall(ctx context.Context, rec CallRecord) (*APICallResult, error) {
	var res *APICallResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := s.lockAndReset(ctx, tx, rec.UserID)
		if err != nil {
			return err
		}

		res = &APICallResult{Success: true}

		if q.UsedCalls < q.SubscriptionCalls {
			q.UsedCalls++
			res.Bucket = BucketSubscription
		} else {
			packs, err := tx.OpenPacks(ctx, rec.UserID)
			if err != nil {
				return err
			}
			queue := NewPackQueue(packs)
			if taken, touched := queue.Take(1); taken == 1 {
				pack := touched[0]
				if err := tx.SavePack(ctx, pack); err != nil {
					return err
				}
				q.PackCalls--
				q.TotalCalls--
				res.Bucket = BucketPack
				res.PackID = &pack.ID
			} else {
				q.UsedCalls++
				res.Bucket = BucketOverdraft
			}
		}

		now := s.clock.Now()
		q.UpdatedAt = now
		if err := tx.SaveQuota(ctx, q); err != nil {
			return err
		}

		log := &UsageLog{
			ID:             uuid.New(),
			UserID:         rec.UserID,
			APIKeyID:       rec.APIKeyID,
			Endpoint:       rec.Endpoint,
			Method:         rec.Method,
			StatusCode:     rec.StatusCode,
			ResponseTimeMs: rec.ResponseTimeMs,
			Bucket:         res.Bucket,
			IPAddress:      rec.IPAddress,
			UserAgent:      rec.UserAgent,
			Metadata:       encodeMetadata(rec.Metadata),
			CreatedAt:      now,
		}
		if err := tx.InsertUsageLog(ctx, log); err != nil {
			return err
		}

		res.Remaining = q.TotalCalls - q.UsedCalls
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("consuming api call: %w", err)
	}

	metrics.APICallsTotal.WithLabelValues(string(res.Bucket)).Inc()
	return res, nil
}

// AddSubscriptionCalls tops up the subscription allowance.
func (s *Service) AddSubscriptionCalls(ctx context.Context, userID uuid.UUID, calls int) (*Quota, error) {
	if calls <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *Quota
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := tx.LockQuota(ctx, userID, s.clock.Now())
		if err != nil {
			return err
		}
		q.SubscriptionCalls += calls
		q.TotalCalls += calls
		q.UpdatedAt = s.clock.Now()
		if err := tx.SaveQuota(ctx, q); err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding subscription calls: %w", err)
	}
	return out, nil
}

// AddPackCalls records a purchased call pack and adds it to the allowance.
func (s *Service) AddPackCalls(ctx context.Context, userID uuid.UUID, calls int) (*CallPack, error) {
	if calls <= 0 {
		return nil, ErrInvalidAmount
	}

	var pack *CallPack
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		q, err := tx.LockQuota(ctx, userID, now)
		if err != nil {
			return err
		}

		pack = &CallPack{
			ID:             uuid.New(),
			UserID:         userID,
			PackSize:       calls,
			CallsRemaining: calls,
			PurchasedAt:    now,
		}
		if err := tx.InsertPack(ctx, pack); err != nil {
			return err
		}

		q.PackCalls += calls
		q.TotalCalls += calls
		q.UpdatedAt = now
		return tx.SaveQuota(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("adding pack calls: %w", err)
	}

	slog.Info("call pack added", "user_id", userID, "calls", calls, "pack_id", pack.ID)
	return pack, nil
}

// SetUserTier assigns a tier and overwrites the subscription allowance with
// the tier's monthly limit. Previous subscription and pack totals are not
// carried over into TotalCalls.
func (s *Service) SetUserTier(ctx context.Context, userID uuid.UUID, tierName string) (*Quota, error) {
	var out *Quota
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		tier, err := tx.TierByName(ctx, tierName)
		if err != nil {
			return err
		}
		if tier == nil {
			return fmt.Errorf("%w: %q", ErrTierNotFound, tierName)
		}

		q, err := tx.LockQuota(ctx, userID, s.clock.Now())
		if err != nil {
			return err
		}
		q.TierID = &tier.ID
		q.SubscriptionCalls = tier.MonthlyLimit
		q.TotalCalls = tier.MonthlyLimit
		q.UpdatedAt = s.clock.Now()
		if err := tx.SaveQuota(ctx, q); err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting user tier: %w", err)
	}

	slog.Info("user tier set", "user_id", userID, "tier", tierName)
	return out, nil
}

// GetUserQuotaWithTier returns the user's reset-checked quota with its tier.
func (s *Service) GetUserQuotaWithTier(ctx context.Context, userID uuid.UUID) (*QuotaWithTier, error) {
	var out *QuotaWithTier
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		q, err := s.lockAndReset(ctx, tx, userID)
		if err != nil {
			return err
		}
		tier, err := s.resolveTier(ctx, tx, q)
		if err != nil {
			return err
		}
		out = &QuotaWithTier{
			Quota:            q,
			Tier:             tier,
			DailyRemaining:   remaining(tier.DailyLimit, q.DailyUsed),
			MonthlyRemaining: remaining(tier.MonthlyLimit, q.MonthlyUsed),
			CallsRemaining:   q.TotalCalls - q.UsedCalls,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting quota with tier: %w", err)
	}
	return out, nil
}

// TierForUser resolves the user's tier name without taking a row lock.
func (s *Service) TierForUser(ctx context.Context, userID uuid.UUID) (string, error) {
	tier, err := s.store.TierForUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolving tier: %w", err)
	}
	if tier == nil {
		return DefaultTierName, nil
	}
	return tier.Name, nil
}

// Tiers lists the available tiers.
func (s *Service) Tiers(ctx context.Context) ([]Tier, error) {
	return s.store.Tiers(ctx)
}

// UsageLogs returns the user's most recent metered calls.
func (s *Service) UsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLog, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.UsageLogs(ctx, userID, limit)
}

func (s *Service) lockAndReset(ctx context.Context, tx Tx, userID uuid.UUID) (*Quota, error) {
	now := s.clock.Now()
	q, err := tx.LockQuota(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if applyResets(q, now) {
		q.UpdatedAt = now
		if err := tx.SaveQuota(ctx, q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (s *Service) resolveTier(ctx context.Context, tx Tx, q *Quota) (*Tier, error) {
	if q.TierID != nil {
		tier, err := tx.TierByID(ctx, *q.TierID)
		if err != nil {
			return nil, err
		}
		if tier != nil {
			return tier, nil
		}
		slog.Warn("quota references missing tier, using default", "user_id", q.UserID, "tier_id", *q.TierID)
	}

	tier, err := tx.TierByName(ctx, DefaultTierName)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, fmt.Errorf("%w: %q", ErrTierNotFound, DefaultTierName)
	}
	return tier, nil
}

// applyResets zeroes counters whose calendar period (UTC) has rolled over
// since the last reset. It reports whether q was modified.
func applyResets(q *Quota, now time.Time) bool {
	changed := false
	if !sameDay(q.LastDailyReset, now) {
		q.DailyUsed = 0
		q.LastDailyReset = now
		changed = true
	}
	if !sameMonth(q.LastMonthlyReset, now) {
		q.MonthlyUsed = 0
		q.UsedCalls = 0
		q.LastMonthlyReset = now
		changed = true
	}
	return changed
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

func encodeMetadata(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Warn("quota: dropping unencodable usage metadata", "error", err)
		return nil
	}
	return data
}
