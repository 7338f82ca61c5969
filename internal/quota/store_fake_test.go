package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store. InTx holds a single mutex for the whole
// transaction and restores a snapshot when fn fails, which is enough to
// model row locking and rollback for one process.
type memStore struct {
	mu     sync.Mutex
	tiers  map[int]Tier
	quotas map[uuid.UUID]Quota
	packs  map[uuid.UUID]CallPack
	logs   []UsageLog
}

func newMemStore(tiers ...Tier) *memStore {
	s := &memStore{
		tiers:  make(map[int]Tier),
		quotas: make(map[uuid.UUID]Quota),
		packs:  make(map[uuid.UUID]CallPack),
	}
	for _, t := range tiers {
		s.tiers[t.ID] = t
	}
	return s
}

func defaultTiers() []Tier {
	return []Tier{
		{ID: 1, Name: "free", DailyLimit: 5, MonthlyLimit: 50, BasicScanCost: 1},
		{ID: 2, Name: "starter", DailyLimit: 20, MonthlyLimit: 500, BasicScanCost: 1},
		{ID: 3, Name: "pro", DailyLimit: 60, MonthlyLimit: 5000, GTmetrixEnabled: true, GTmetrixCost: 5, BasicScanCost: 1},
		{ID: 4, Name: "enterprise", DailyLimit: 1000, MonthlyLimit: 50000, GTmetrixEnabled: true, GTmetrixCost: 3, BasicScanCost: 1},
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	quotas := make(map[uuid.UUID]Quota, len(s.quotas))
	for k, v := range s.quotas {
		quotas[k] = v
	}
	packs := make(map[uuid.UUID]CallPack, len(s.packs))
	for k, v := range s.packs {
		packs[k] = v
	}
	logs := len(s.logs)

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.quotas = quotas
		s.packs = packs
		s.logs = s.logs[:logs]
		return err
	}
	return nil
}

func (s *memStore) Tiers(ctx context.Context) ([]Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Tier
	for _, t := range s.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyLimit < out[j].MonthlyLimit })
	return out, nil
}

func (s *memStore) TierByName(ctx context.Context, name string) (*Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tierByName(name), nil
}

func (s *memStore) TierForUser(ctx context.Context, userID uuid.UUID) (*Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotas[userID]
	if !ok || q.TierID == nil {
		return nil, nil
	}
	t, ok := s.tiers[*q.TierID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *memStore) UsageLogs(ctx context.Context, userID uuid.UUID, limit int) ([]UsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UsageLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].UserID == userID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

func (s *memStore) tierByName(name string) *Tier {
	for _, t := range s.tiers {
		if t.Name == name {
			return &t
		}
	}
	return nil
}

// quota returns a copy of the stored row for assertions.
func (s *memStore) quota(userID uuid.UUID) Quota {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[userID]
}

func (s *memStore) putQuota(q Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[q.UserID] = q
}

func (s *memStore) pack(id uuid.UUID) CallPack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packs[id]
}

func (s *memStore) putPack(p CallPack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs[p.ID] = p
}

type memTx struct {
	s *memStore
}

func (t *memTx) LockQuota(ctx context.Context, userID uuid.UUID, now time.Time) (*Quota, error) {
	q, ok := t.s.quotas[userID]
	if !ok {
		q = Quota{
			UserID:           userID,
			LastDailyReset:   now,
			LastMonthlyReset: now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		t.s.quotas[userID] = q
	}
	return &q, nil
}

func (t *memTx) SaveQuota(ctx context.Context, q *Quota) error {
	t.s.quotas[q.UserID] = *q
	return nil
}

func (t *memTx) TierByID(ctx context.Context, id int) (*Tier, error) {
	tier, ok := t.s.tiers[id]
	if !ok {
		return nil, nil
	}
	return &tier, nil
}

func (t *memTx) TierByName(ctx context.Context, name string) (*Tier, error) {
	return t.s.tierByName(name), nil
}

func (t *memTx) OpenPacks(ctx context.Context, userID uuid.UUID) ([]*CallPack, error) {
	var out []*CallPack
	for _, p := range t.s.packs {
		if p.UserID == userID && p.CallsRemaining > 0 {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (t *memTx) SavePack(ctx context.Context, p *CallPack) error {
	t.s.packs[p.ID] = *p
	return nil
}

func (t *memTx) InsertPack(ctx context.Context, p *CallPack) error {
	t.s.packs[p.ID] = *p
	return nil
}

func (t *memTx) InsertUsageLog(ctx context.Context, l *UsageLog) error {
	t.s.logs = append(t.s.logs, *l)
	return nil
}
