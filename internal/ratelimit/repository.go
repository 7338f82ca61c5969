package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOverrideNotFound = errors.New("override not found")
	ErrOverrideExists   = errors.New("an active override already exists for this target")
)

const uniqueViolation = "23505"

const overrideColumns = `id, target_type, target_id, max_per_minute, max_per_day, reason,
	created_by, expires_at, is_active, created_at, updated_at`

// OverrideRepository handles rate_limit_overrides PostgreSQL operations.
type OverrideRepository struct {
	pool *pgxpool.Pool
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(pool *pgxpool.Pool) *OverrideRepository {
	return &OverrideRepository{pool: pool}
}

// Create inserts o. The partial unique index on active targets turns a
// second active override for the same target into ErrOverrideExists.
func (r *OverrideRepository) Create(ctx context.Context, o *Override) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rate_limit_overrides (id, target_type, target_id, max_per_minute, max_per_day,
		                                   reason, created_by, expires_at, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.TargetType, o.TargetID, o.MaxPerMinute, o.MaxPerDay,
		o.Reason, o.CreatedBy, o.ExpiresAt, o.IsActive, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrOverrideExists
		}
		return fmt.Errorf("inserting override: %w", err)
	}
	return nil
}

// Deactivate clears the active flag and returns the updated override.
func (r *OverrideRepository) Deactivate(ctx context.Context, id uuid.UUID, now time.Time) (*Override, error) {
	o, err := scanOverride(r.pool.QueryRow(ctx,
		`UPDATE rate_limit_overrides SET is_active = FALSE, updated_at = $2
		 WHERE id = $1 AND is_active
		 RETURNING `+overrideColumns, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOverrideNotFound
		}
		return nil, fmt.Errorf("deactivating override: %w", err)
	}
	return o, nil
}

// List returns overrides newest first; inactive ones only when includeInactive.
func (r *OverrideRepository) List(ctx context.Context, includeInactive bool) ([]Override, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+overrideColumns+` FROM rate_limit_overrides
		 WHERE is_active OR $1
		 ORDER BY created_at DESC`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// FindActive returns the active, unexpired override for a target, or nil.
func (r *OverrideRepository) FindActive(ctx context.Context, targetType IdentifierType, targetID string, now time.Time) (*Override, error) {
	o, err := scanOverride(r.pool.QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM rate_limit_overrides
		 WHERE target_type = $1 AND target_id = $2 AND is_active
		   AND (expires_at IS NULL OR expires_at > $3)
		 LIMIT 1`, targetType, targetID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding override: %w", err)
	}
	return o, nil
}

func scanOverride(row pgx.Row) (*Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.TargetType, &o.TargetID, &o.MaxPerMinute, &o.MaxPerDay, &o.Reason,
		&o.CreatedBy, &o.ExpiresAt, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// EventRepository handles rate_limit_events PostgreSQL operations.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// Insert appends a rate limit event. Duplicate ids are ignored so
// redelivered messages are harmless.
func (r *EventRepository) Insert(ctx context.Context, e *Event) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rate_limit_events (id, identifier, identifier_type, tier, endpoint, method,
		                                blocked, request_count, limit_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Identifier, e.IdentifierType, e.Tier, e.Endpoint, e.Method,
		e.Blocked, e.RequestCount, e.LimitValue, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting rate limit event: %w", err)
	}
	return nil
}

// Aggregate summarises events in [from, to).
func (r *EventRepository) Aggregate(ctx context.Context, from, to time.Time, top int) (*Report, error) {
	rep := &Report{From: from, To: to}

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE blocked)
		 FROM rate_limit_events WHERE created_at >= $1 AND created_at < $2`, from, to,
	).Scan(&rep.TotalRequests, &rep.BlockedRequests)
	if err != nil {
		return nil, fmt.Errorf("counting rate limit events: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT tier, COUNT(*), COUNT(*) FILTER (WHERE blocked)
		 FROM rate_limit_events WHERE created_at >= $1 AND created_at < $2
		 GROUP BY tier ORDER BY COUNT(*) DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating by tier: %w", err)
	}
	for rows.Next() {
		var t TierStat
		if err := rows.Scan(&t.Tier, &t.Requests, &t.Blocked); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning tier stat: %w", err)
		}
		rep.ByTier = append(rep.ByTier, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx,
		`SELECT identifier, identifier_type, COUNT(*), COUNT(*) FILTER (WHERE blocked)
		 FROM rate_limit_events WHERE created_at >= $1 AND created_at < $2
		 GROUP BY identifier, identifier_type
		 ORDER BY COUNT(*) FILTER (WHERE blocked) DESC, COUNT(*) DESC
		 LIMIT $3`, from, to, top)
	if err != nil {
		return nil, fmt.Errorf("aggregating by identifier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s IdentifierStat
		if err := rows.Scan(&s.Identifier, &s.IdentifierType, &s.Requests, &s.Blocked); err != nil {
			return nil, fmt.Errorf("scanning identifier stat: %w", err)
		}
		rep.TopIdentifiers = append(rep.TopIdentifiers, s)
	}
	return rep, rows.Err()
}
