package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the wallet service.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Wallet returns nil, nil when the user has no wallet.
	Wallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	// Transactions lists the user's ledger newest first.
	Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
	// Ledger returns every ledger row for the user in the order applied.
	Ledger(ctx context.Context, userID uuid.UUID) ([]Transaction, error)
}

// Tx is the set of operations available inside a wallet transaction.
type Tx interface {
	// TransactionByKey returns nil, nil when no row carries the key.
	TransactionByKey(ctx context.Context, key string) (*Transaction, error)
	// EnsureWallet creates a zeroed wallet if the user has none.
	EnsureWallet(ctx context.Context, userID uuid.UUID, now time.Time) error
	// LockWallet returns the wallet locked for update, or nil when absent.
	LockWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	SaveWallet(ctx context.Context, w *Wallet) error
	InsertTransaction(ctx context.Context, t *Transaction) error
}
