package apikeys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradewise/meter/internal/clock"
)

var testNow = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

type memKeyStore struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]*APIKey
	findErr  error
	touchErr error
	touched  int
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[uuid.UUID]*APIKey)}
}

func (s *memKeyStore) Create(_ context.Context, k *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.keys[k.ID] = &cp
	return nil
}

func (s *memKeyStore) FindByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memKeyStore) ListByUser(_ context.Context, userID uuid.UUID) ([]APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *memKeyStore) TouchLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	if s.touchErr != nil {
		return s.touchErr
	}
	if k, ok := s.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func (s *memKeyStore) Revoke(_ context.Context, userID, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID || !k.IsActive {
		return false, nil
	}
	k.IsActive = false
	return true, nil
}

type staticTiers map[uuid.UUID]string

func (t staticTiers) TierForUser(_ context.Context, userID uuid.UUID) (string, error) {
	if tier, ok := t[userID]; ok {
		return tier, nil
	}
	return "free", nil
}

func setupService(t *testing.T) (*Service, *memKeyStore, *clock.Fake, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	store := newMemKeyStore()
	clk := clock.NewFake(testNow)
	return NewService(store, staticTiers{userID: "pro"}, clk), store, clk, userID
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, store, _, userID := setupService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, userID, IssueRequest{Name: "ci"})
	require.NoError(t, err)
	assert.True(t, ValidFormat(issued.Key))
	assert.Equal(t, DisplayPrefix(issued.Key), issued.KeyPrefix)
	assert.Equal(t, HashKey(issued.Key), store.keys[issued.ID].KeyHash)

	p, err := svc.Authenticate(ctx, issued.Key)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, p.KeyID)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, "pro", p.Tier)

	require.NotNil(t, store.keys[issued.ID].LastUsedAt)
	assert.Equal(t, testNow, *store.keys[issued.ID].LastUsedAt)
}

func TestIssue_RejectsPastExpiry(t *testing.T) {
	svc, store, _, userID := setupService(t)
	past := testNow.Add(-time.Hour)

	_, err := svc.Issue(context.Background(), userID, IssueRequest{Name: "old", ExpiresAt: &past})
	assert.ErrorIs(t, err, ErrExpiredKey)
	assert.Empty(t, store.keys)
}

func TestAuthenticate_Failures(t *testing.T) {
	svc, store, clk, userID := setupService(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "not-a-key")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = svc.Authenticate(ctx, "gw_unknown")
	assert.ErrorIs(t, err, ErrInvalidKey)

	expires := testNow.Add(time.Hour)
	issued, err := svc.Issue(ctx, userID, IssueRequest{Name: "short", ExpiresAt: &expires})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = svc.Authenticate(ctx, issued.Key)
	assert.ErrorIs(t, err, ErrExpiredKey)

	other, err := svc.Issue(ctx, userID, IssueRequest{Name: "revoked"})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, userID, other.ID))
	_, err = svc.Authenticate(ctx, other.Key)
	assert.ErrorIs(t, err, ErrInactiveKey)

	store.findErr = errors.New("db down")
	_, err = svc.Authenticate(ctx, other.Key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidKey)
}

func TestAuthenticate_TouchFailureIsIgnored(t *testing.T) {
	svc, store, _, userID := setupService(t)
	ctx := context.Background()
	issued, err := svc.Issue(ctx, userID, IssueRequest{Name: "ci"})
	require.NoError(t, err)

	store.touchErr = errors.New("timeout")
	p, err := svc.Authenticate(ctx, issued.Key)
	require.NoError(t, err)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, 1, store.touched)
}

func TestAuthenticate_DefaultTier(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, uuid.New(), IssueRequest{Name: "ci"})
	require.NoError(t, err)
	p, err := svc.Authenticate(ctx, issued.Key)
	require.NoError(t, err)
	assert.Equal(t, "free", p.Tier)
}

func TestRevoke(t *testing.T) {
	svc, _, _, userID := setupService(t)
	ctx := context.Background()
	issued, err := svc.Issue(ctx, userID, IssueRequest{Name: "ci"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, uuid.New(), issued.ID), ErrKeyNotFound, "other users cannot revoke")
	require.NoError(t, svc.Revoke(ctx, userID, issued.ID))
	assert.ErrorIs(t, svc.Revoke(ctx, userID, issued.ID), ErrKeyNotFound)

	keys, err := svc.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)
}
