package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store that serialises transactions on one mutex
// and rolls back to a snapshot when fn fails.
type memStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]Wallet
	txs     []Transaction
	seq     int64
}

func newMemStore() *memStore {
	return &memStore{wallets: make(map[uuid.UUID]Wallet)}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallets := make(map[uuid.UUID]Wallet, len(s.wallets))
	for k, v := range s.wallets {
		wallets[k] = v
	}
	n, seq := len(s.txs), s.seq

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.wallets = wallets
		s.txs = s.txs[:n]
		s.seq = seq
		return err
	}
	return nil
}

func (s *memStore) Wallet(_ context.Context, userID uuid.UUID) (*Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (s *memStore) Transactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.forUser(userID)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memStore) Ledger(_ context.Context, userID uuid.UUID) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forUser(userID), nil
}

func (s *memStore) forUser(userID uuid.UUID) []Transaction {
	var out []Transaction
	for _, tr := range s.txs {
		if tr.UserID == userID {
			out = append(out, tr)
		}
	}
	return out
}

// tamper lets tests corrupt stored state to exercise VerifyLedger.
func (s *memStore) tamper(fn func(wallets map[uuid.UUID]Wallet, txs []Transaction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.wallets, s.txs)
}

type memTx struct {
	s *memStore
}

func (t *memTx) TransactionByKey(_ context.Context, key string) (*Transaction, error) {
	for _, tr := range t.s.txs {
		if tr.IdempotencyKey != nil && *tr.IdempotencyKey == key {
			out := tr
			return &out, nil
		}
	}
	return nil, nil
}

func (t *memTx) EnsureWallet(_ context.Context, userID uuid.UUID, now time.Time) error {
	if _, ok := t.s.wallets[userID]; !ok {
		t.s.wallets[userID] = Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (t *memTx) LockWallet(_ context.Context, userID uuid.UUID) (*Wallet, error) {
	w, ok := t.s.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (t *memTx) SaveWallet(_ context.Context, w *Wallet) error {
	t.s.wallets[w.UserID] = *w
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *Transaction) error {
	if tr.IdempotencyKey != nil {
		if prior, _ := t.TransactionByKey(context.Background(), *tr.IdempotencyKey); prior != nil {
			return ErrIdempotencyConflict
		}
	}
	t.s.seq++
	tr.Seq = t.s.seq
	t.s.txs = append(t.s.txs, *tr)
	return nil
}
