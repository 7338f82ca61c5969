package wallet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TxType classifies a ledger row.
type TxType string

const (
	TxCredit     TxType = "credit"
	TxDebit      TxType = "debit"
	TxAdjustment TxType = "adjustment"
)

// SourceAdmin is the source recorded on admin adjustments.
const SourceAdmin = "admin"

// Wallet matches the token_wallets table schema.
// Balance always equals TotalEarned - TotalSpent.
type Wallet struct {
	UserID      uuid.UUID `json:"user_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalSpent  int64     `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transaction matches the token_transactions table schema. Amount is signed;
// BalanceAfter is the wallet balance once this row was applied.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	Seq            int64           `json:"seq"`
	UserID         uuid.UUID       `json:"user_id"`
	Type           TxType          `json:"type"`
	Source         string          `json:"source"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Description    string          `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CreditRequest struct {
	UserID         uuid.UUID      `json:"-"`
	Amount         int64          `json:"amount" validate:"required,min=1"`
	Source         string         `json:"source" validate:"required,max=100"`
	Description    string         `json:"description" validate:"max=500"`
	IdempotencyKey string         `json:"idempotency_key" validate:"max=255"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedBy      string         `json:"-"`
}

type DebitRequest struct {
	UserID         uuid.UUID      `json:"-"`
	Amount         int64          `json:"amount" validate:"required,min=1"`
	FeatureCode    string         `json:"feature_code" validate:"required,max=100"`
	Description    string         `json:"description" validate:"max=500"`
	IdempotencyKey string         `json:"idempotency_key" validate:"max=255"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type AdjustRequest struct {
	Amount      int64  `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,max=500"`
}

// CreditResult reports a credit. Replayed is set when the idempotency key
// matched an earlier credit and nothing new was written.
type CreditResult struct {
	Transaction *Transaction `json:"transaction"`
	Replayed    bool         `json:"replayed"`
}

// InsufficientFunds carries the amounts behind a refused debit.
type InsufficientFunds struct {
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
}

// DebitResult is returned for every debit. A refusal sets Insufficient and
// leaves the wallet unchanged.
type DebitResult struct {
	OK           bool               `json:"ok"`
	Transaction  *Transaction       `json:"transaction,omitempty"`
	Insufficient *InsufficientFunds `json:"insufficient,omitempty"`
	Replayed     bool               `json:"replayed,omitempty"`
}

// LedgerReport is the outcome of replaying a user's ledger.
type LedgerReport struct {
	UserID       uuid.UUID `json:"user_id"`
	Balance      int64     `json:"balance"`
	TotalEarned  int64     `json:"total_earned"`
	TotalSpent   int64     `json:"total_spent"`
	Transactions int       `json:"transactions"`
	Consistent   bool      `json:"consistent"`
	Problems     []string  `json:"problems,omitempty"`
}
