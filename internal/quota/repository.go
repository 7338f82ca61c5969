package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradewise/meter/internal/database"
)

const tierColumns = `id, name, daily_limit, monthly_limit, gtmetrix_enabled, gtmetrix_cost,
	basic_scan_cost, price_monthly_cents, price_yearly_cents`

const quotaColumns = `user_id, total_calls, used_calls, subscription_calls, pack_calls,
	daily_used, monthly_used, last_daily_reset, last_monthly_reset, tier_id, created_at, updated_at`

// Repository handles quota, tier, call pack and usage log PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new quota Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InTx runs fn in a transaction; rows locked through tx stay locked until fn returns.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithTx(ctx, r.pool, func(t pgx.Tx) error {
		return fn(ctx, &pgTx{tx: t})
	})
}

func (r *Repository) Tiers(ctx context.Context) ([]Tier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tierColumns+` FROM tiers ORDER BY monthly_limit`)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	defer rows.Close()

	var tiers []Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tier: %w", err)
		}
		tiers = append(tiers, *t)
	}
	return tiers, rows.Err()
}

func (r *Repository) TierByName(ctx context.Context, name string) (*Tier, error) {
	return tierByName(ctx, r.pool, name)
}

func (r *Repository) TierForUser(ctx context.Context, userID uuid.UUID) (*Tier, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT t.id, t.name, t.daily_limit, t.monthly_limit, t.gtmetrix_enabled, t.gtmetrix_cost,
		        t.basic_scan_cost, t.price_monthly_cents, t.price_yearly_cents
		 FROM user_quotas q JOIN tiers t ON t.id = q.tier_id
		 WHERE q.user_id = $1`, userID)
	t, err := scanTier(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tier for user: %w", err)
	}
	return t, nil
}

func (r *Repository) UsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, api_key_id, endpoint, method, status_code, response_time_ms,
		        bucket, ip_address, user_agent, metadata, created_at
		 FROM api_usage_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying usage logs: %w", err)
	}
	defer rows.Close()

	var logs []UsageLog
	for rows.Next() {
		var l UsageLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.APIKeyID, &l.Endpoint, &l.Method, &l.StatusCode,
			&l.ResponseTimeMs, &l.Bucket, &l.IPAddress, &l.UserAgent, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockQuota(ctx context.Context, userID uuid.UUID, now time.Time) (*Quota, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_quotas (user_id, last_daily_reset, last_monthly_reset, created_at, updated_at)
		 VALUES ($1, $2, $2, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("ensuring user quota: %w", err)
	}

	var q Quota
	err = t.tx.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM user_quotas WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&q.UserID, &q.TotalCalls, &q.UsedCalls, &q.SubscriptionCalls, &q.PackCalls,
		&q.DailyUsed, &q.MonthlyUsed, &q.LastDailyReset, &q.LastMonthlyReset, &q.TierID,
		&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("locking user quota: %w", err)
	}
	return &q, nil
}

func (t *pgTx) SaveQuota(ctx context.Context, q *Quota) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE user_quotas
		 SET total_calls = $2, used_calls = $3, subscription_calls = $4, pack_calls = $5,
		     daily_used = $6, monthly_used = $7, last_daily_reset = $8, last_monthly_reset = $9,
		     tier_id = $10, updated_at = $11
		 WHERE user_id = $1`,
		q.UserID, q.TotalCalls, q.UsedCalls, q.SubscriptionCalls, q.PackCalls,
		q.DailyUsed, q.MonthlyUsed, q.LastDailyReset, q.LastMonthlyReset, q.TierID, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating user quota: %w", err)
	}
	return nil
}

func (t *pgTx) TierByID(ctx context.Context, id int) (*Tier, error) {
	tier, err := scanTier(t.tx.QueryRow(ctx, `SELECT `+tierColumns+` FROM tiers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tier by id: %w", err)
	}
	return tier, nil
}

func (t *pgTx) TierByName(ctx context.Context, name string) (*Tier, error) {
	return tierByName(ctx, t.tx, name)
}

func (t *pgTx) OpenPacks(ctx context.Context, userID uuid.UUID) ([]*CallPack, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, pack_size, calls_remaining, purchased_at
		 FROM call_packs
		 WHERE user_id = $1 AND calls_remaining > 0
		 FOR UPDATE`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying call packs: %w", err)
	}
	defer rows.Close()

	var packs []*CallPack
	for rows.Next() {
		p := &CallPack{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.PackSize, &p.CallsRemaining, &p.PurchasedAt); err != nil {
			return nil, fmt.Errorf("scanning call pack: %w", err)
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

func (t *pgTx) SavePack(ctx context.Context, p *CallPack) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE call_packs SET calls_remaining = $2 WHERE id = $1`, p.ID, p.CallsRemaining)
	if err != nil {
		return fmt.Errorf("updating call pack: %w", err)
	}
	return nil
}

func (t *pgTx) InsertPack(ctx context.Context, p *CallPack) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO call_packs (id, user_id, pack_size, calls_remaining, purchased_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.UserID, p.PackSize, p.CallsRemaining, p.PurchasedAt)
	if err != nil {
		return fmt.Errorf("inserting call pack: %w", err)
	}
	return nil
}

func (t *pgTx) InsertUsageLog(ctx context.Context, l *UsageLog) error {
	metadata := l.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO api_usage_logs (id, user_id, api_key_id, endpoint, method, status_code,
		                             response_time_ms, bucket, ip_address, user_agent, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.UserID, l.APIKeyID, l.Endpoint, l.Method, l.StatusCode,
		l.ResponseTimeMs, l.Bucket, l.IPAddress, l.UserAgent, metadata, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage log: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tierByName(ctx context.Context, q queryRower, name string) (*Tier, error) {
	tier, err := scanTier(q.QueryRow(ctx, `SELECT `+tierColumns+` FROM tiers WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying tier by name: %w", err)
	}
	return tier, nil
}

func scanTier(row pgx.Row) (*Tier, error) {
	var t Tier
	err := row.Scan(&t.ID, &t.Name, &t.DailyLimit, &t.MonthlyLimit, &t.GTmetrixEnabled,
		&t.GTmetrixCost, &t.BasicScanCost, &t.PriceMonthlyCents, &t.PriceYearlyCents)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
