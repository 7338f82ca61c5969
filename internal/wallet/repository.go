package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradewise/meter/internal/database"
)

const uniqueViolation = "23505"

const walletColumns = `user_id, balance, total_earned, total_spent, created_at, updated_at`

const transactionColumns = `id, seq, user_id, type, source, amount, balance_after, description,
	idempotency_key, metadata, created_by, created_at`

// Repository handles token wallet and ledger PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InTx runs fn in a transaction; wallets locked through tx stay locked until fn returns.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithTx(ctx, r.pool, func(t pgx.Tx) error {
		return fn(ctx, &pgTx{tx: t})
	})
}

func (r *Repository) Wallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM token_wallets WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying wallet: %w", err)
	}
	return w, nil
}

func (r *Repository) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM token_transactions
		 WHERE user_id = $1
		 ORDER BY seq DESC
		 LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (r *Repository) Ledger(ctx context.Context, userID uuid.UUID) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM token_transactions
		 WHERE user_id = $1
		 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	return collectTransactions(rows)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) TransactionByKey(ctx context.Context, key string) (*Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM token_transactions WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying transaction by key: %w", err)
	}
	return tr, nil
}

func (t *pgTx) EnsureWallet(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO token_wallets (user_id, created_at, updated_at)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, now)
	if err != nil {
		return fmt.Errorf("ensuring wallet: %w", err)
	}
	return nil
}

func (t *pgTx) LockWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM token_wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w *Wallet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE token_wallets
		 SET balance = $2, total_earned = $3, total_spent = $4, updated_at = $5
		 WHERE user_id = $1`,
		w.UserID, w.Balance, w.TotalEarned, w.TotalSpent, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating wallet: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	metadata := tr.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO token_transactions (id, user_id, type, source, amount, balance_after,
		                                 description, idempotency_key, metadata, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING seq`,
		tr.ID, tr.UserID, tr.Type, tr.Source, tr.Amount, tr.BalanceAfter,
		tr.Description, tr.IdempotencyKey, metadata, tr.CreatedBy, tr.CreatedAt,
	).Scan(&tr.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.UserID, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tr Transaction
	err := row.Scan(&tr.ID, &tr.Seq, &tr.UserID, &tr.Type, &tr.Source, &tr.Amount, &tr.BalanceAfter,
		&tr.Description, &tr.IdempotencyKey, &tr.Metadata, &tr.CreatedBy, &tr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}
