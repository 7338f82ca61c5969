package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/metrics"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrZeroAdjustment      = errors.New("adjustment amount must not be zero")
	ErrNegativeBalance     = errors.New("adjustment would make balance negative")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrIdempotencyConflict = errors.New("idempotency key already used for a different operation")
)

// Service moves tokens in and out of user wallets. Every mutation writes a
// ledger row in the same transaction as the balance change.
type Service struct {
	store Store
	clock clock.Clock
}

func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, clock: clk}
}

// CreditTokens adds tokens to the user's wallet, creating the wallet on
// first credit. A repeated idempotency key returns the original credit.
func (s *Service) CreditTokens(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	var res *CreditResult
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		if err := tx.EnsureWallet(ctx, req.UserID, now); err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, req.UserID)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrWalletNotFound
		}

		prior, err := replay(ctx, tx, req.IdempotencyKey, req.UserID, TxCredit, req.Amount)
		if err != nil {
			return err
		}
		if prior != nil {
			res = &CreditResult{Transaction: prior, Replayed: true}
			return nil
		}

		w.Balance += req.Amount
		w.TotalEarned += req.Amount
		w.UpdatedAt = now

		tr := &Transaction{
			ID:             uuid.New(),
			UserID:         req.UserID,
			Type:           TxCredit,
			Source:         req.Source,
			Amount:         req.Amount,
			BalanceAfter:   w.Balance,
			Description:    req.Description,
			IdempotencyKey: optionalKey(req.IdempotencyKey),
			Metadata:       metadata,
			CreatedBy:      req.CreatedBy,
			CreatedAt:      now,
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		res = &CreditResult{Transaction: tr}
		return nil
	})
	if err != nil {
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxCredit), "error").Inc()
		return nil, fmt.Errorf("crediting tokens: %w", err)
	}

	if res.Replayed {
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxCredit), "replayed").Inc()
		return res, nil
	}
	metrics.WalletTransactionsTotal.WithLabelValues(string(TxCredit), "ok").Inc()
	slog.Info("tokens credited", "user_id", req.UserID, "amount", req.Amount,
		"source", req.Source, "balance", res.Transaction.BalanceAfter)
	return res, nil
}

// DebitTokens spends tokens from the user's wallet. Insufficient funds are
// reported in the result, not as an error, and leave the wallet untouched.
func (s *Service) DebitTokens(ctx context.Context, req DebitRequest) (*DebitResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	var res *DebitResult
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.LockWallet(ctx, req.UserID)
		if err != nil {
			return err
		}

		prior, err := replay(ctx, tx, req.IdempotencyKey, req.UserID, TxDebit, -req.Amount)
		if err != nil {
			return err
		}
		if prior != nil {
			res = &DebitResult{OK: true, Transaction: prior, Replayed: true}
			return nil
		}

		var available int64
		if w != nil {
			available = w.Balance
		}
		if w == nil || available < req.Amount {
			res = &DebitResult{Insufficient: &InsufficientFunds{Required: req.Amount, Available: available}}
			return nil
		}

		now := s.clock.Now()
		w.Balance -= req.Amount
		w.TotalSpent += req.Amount
		w.UpdatedAt = now

		tr := &Transaction{
			ID:             uuid.New(),
			UserID:         req.UserID,
			Type:           TxDebit,
			Source:         req.FeatureCode,
			Amount:         -req.Amount,
			BalanceAfter:   w.Balance,
			Description:    req.Description,
			IdempotencyKey: optionalKey(req.IdempotencyKey),
			Metadata:       metadata,
			CreatedAt:      now,
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		res = &DebitResult{OK: true, Transaction: tr}
		return nil
	})
	if err != nil {
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxDebit), "error").Inc()
		return nil, fmt.Errorf("debiting tokens: %w", err)
	}

	switch {
	case res.Insufficient != nil:
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxDebit), "insufficient").Inc()
		slog.Debug("debit refused", "user_id", req.UserID, "required", req.Amount,
			"available", res.Insufficient.Available)
	case res.Replayed:
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxDebit), "replayed").Inc()
	default:
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxDebit), "ok").Inc()
	}
	return res, nil
}

// AdminAdjustBalance applies a signed correction. Positive amounts count
// towards total earned, negative ones towards total spent.
func (s *Service) AdminAdjustBalance(ctx context.Context, userID uuid.UUID, req AdjustRequest, adminID string) (*Transaction, error) {
	if req.Amount == 0 {
		return nil, ErrZeroAdjustment
	}

	var out *Transaction
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.clock.Now()
		if err := tx.EnsureWallet(ctx, userID, now); err != nil {
			return err
		}
		w, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrWalletNotFound
		}
		if w.Balance+req.Amount < 0 {
			return fmt.Errorf("%w: balance %d, adjustment %d", ErrNegativeBalance, w.Balance, req.Amount)
		}

		w.Balance += req.Amount
		if req.Amount > 0 {
			w.TotalEarned += req.Amount
		} else {
			w.TotalSpent -= req.Amount
		}
		w.UpdatedAt = now

		tr := &Transaction{
			ID:           uuid.New(),
			UserID:       userID,
			Type:         TxAdjustment,
			Source:       SourceAdmin,
			Amount:       req.Amount,
			BalanceAfter: w.Balance,
			Description:  req.Description,
			CreatedBy:    adminID,
			CreatedAt:    now,
		}
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		out = tr
		return nil
	})
	if err != nil {
		metrics.WalletTransactionsTotal.WithLabelValues(string(TxAdjustment), "error").Inc()
		return nil, fmt.Errorf("adjusting balance: %w", err)
	}

	metrics.WalletTransactionsTotal.WithLabelValues(string(TxAdjustment), "ok").Inc()
	slog.Info("wallet balance adjusted", "user_id", userID, "amount", req.Amount,
		"balance", out.BalanceAfter, "admin", adminID)
	return out, nil
}

// GetWallet returns the user's wallet, or a zero wallet if none exists yet.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	w, err := s.store.Wallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet: %w", err)
	}
	if w == nil {
		return &Wallet{UserID: userID}, nil
	}
	return w, nil
}

// ListTransactions pages through the user's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	txs, err := s.store.Transactions(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, nil
}

// VerifyLedger replays the user's ledger and checks it against the wallet
// totals. Discrepancies are listed in the report rather than returned.
func (s *Service) VerifyLedger(ctx context.Context, userID uuid.UUID) (*LedgerReport, error) {
	w, err := s.store.Wallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("verifying ledger: %w", err)
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	txs, err := s.store.Ledger(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("verifying ledger: %w", err)
	}

	rep := &LedgerReport{
		UserID:       userID,
		Balance:      w.Balance,
		TotalEarned:  w.TotalEarned,
		TotalSpent:   w.TotalSpent,
		Transactions: len(txs),
	}

	var running, earned, spent int64
	for _, tr := range txs {
		running += tr.Amount
		if tr.Amount > 0 {
			earned += tr.Amount
		} else {
			spent -= tr.Amount
		}

		switch {
		case tr.Type == TxCredit && tr.Amount <= 0:
			rep.Problems = append(rep.Problems, fmt.Sprintf("credit %s has non-positive amount %d", tr.ID, tr.Amount))
		case tr.Type == TxDebit && tr.Amount >= 0:
			rep.Problems = append(rep.Problems, fmt.Sprintf("debit %s has non-negative amount %d", tr.ID, tr.Amount))
		}
		if tr.BalanceAfter != running {
			rep.Problems = append(rep.Problems, fmt.Sprintf("transaction %s records balance %d, replay gives %d", tr.ID, tr.BalanceAfter, running))
		}
		if running < 0 {
			rep.Problems = append(rep.Problems, fmt.Sprintf("balance negative after transaction %s", tr.ID))
		}
	}

	if running != w.Balance {
		rep.Problems = append(rep.Problems, fmt.Sprintf("wallet balance %d, ledger sum %d", w.Balance, running))
	}
	if w.Balance != w.TotalEarned-w.TotalSpent {
		rep.Problems = append(rep.Problems, fmt.Sprintf("balance %d is not earned %d minus spent %d", w.Balance, w.TotalEarned, w.TotalSpent))
	}
	if earned != w.TotalEarned {
		rep.Problems = append(rep.Problems, fmt.Sprintf("total earned %d, ledger credits %d", w.TotalEarned, earned))
	}
	if spent != w.TotalSpent {
		rep.Problems = append(rep.Problems, fmt.Sprintf("total spent %d, ledger debits %d", w.TotalSpent, spent))
	}

	rep.Consistent = len(rep.Problems) == 0
	if !rep.Consistent {
		slog.Warn("ledger inconsistent", "user_id", userID, "problems", len(rep.Problems))
	}
	return rep, nil
}

// replay returns the transaction already recorded under key, or nil when
// the key is empty or unused. A key recorded for another user, type or
// amount is a conflict.
func replay(ctx context.Context, tx Tx, key string, userID uuid.UUID, typ TxType, amount int64) (*Transaction, error) {
	if key == "" {
		return nil, nil
	}
	prior, err := tx.TransactionByKey(ctx, key)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.UserID != userID || prior.Type != typ || prior.Amount != amount {
		return nil, ErrIdempotencyConflict
	}
	return prior, nil
}

func optionalKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func encodeMetadata(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return b, nil
}
