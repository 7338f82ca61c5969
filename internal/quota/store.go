package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the quota service. Every mutation
// runs through InTx so the quota row is locked for the read-modify-write.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Tiers lists all tiers ordered by monthly limit.
	Tiers(ctx context.Context) ([]Tier, error)
	// TierByName returns nil, nil when no tier has that name.
	TierByName(ctx context.Context, name string) (*Tier, error)
	// TierForUser resolves a user's tier without locking; nil when the user
	// has no quota row or no tier assigned.
	TierForUser(ctx context.Context, userID uuid.UUID) (*Tier, error)
	// UsageLogs returns the most recent usage rows for a user.
	UsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLog, error)
}

// Tx is the set of operations available while a quota row is locked.
type Tx interface {
	// LockQuota creates a zeroed quota row on first access, stamping both
	// reset times with now, and returns it locked for update.
	LockQuota(ctx context.Context, userID uuid.UUID, now time.Time) (*Quota, error)
	SaveQuota(ctx context.Context, q *Quota) error

	TierByID(ctx context.Context, id int) (*Tier, error)
	TierByName(ctx context.Context, name string) (*Tier, error)

	// OpenPacks returns the user's packs that still have calls, locked.
	OpenPacks(ctx context.Context, userID uuid.UUID) ([]*CallPack, error)
	SavePack(ctx context.Context, p *CallPack) error
	InsertPack(ctx context.Context, p *CallPack) error

	InsertUsageLog(ctx context.Context, l *UsageLog) error
}
