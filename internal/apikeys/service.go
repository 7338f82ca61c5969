package apikeys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/clock"
)

var (
	ErrInvalidKey  = errors.New("invalid api key")
	ErrInactiveKey = errors.New("api key is inactive")
	ErrExpiredKey  = errors.New("api key has expired")
	ErrKeyNotFound = errors.New("api key not found")
)

// KeyStore is the persistence the service needs; *Repository satisfies it.
type KeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, userID, id uuid.UUID) (bool, error)
}

// TierResolver maps a user to the name of their tier.
type TierResolver interface {
	TierForUser(ctx context.Context, userID uuid.UUID) (string, error)
}

// Service issues API keys and resolves them to a Principal.
type Service struct {
	store KeyStore
	tiers TierResolver
	clock clock.Clock
}

// NewService creates a new api key Service.
func NewService(store KeyStore, tiers TierResolver, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{store: store, tiers: tiers, clock: clk}
}

// Issue creates a key for userID. The returned plaintext is not recoverable later.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, req IssueRequest) (*IssuedKey, error) {
	plain, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry is in the past", ErrExpiredKey)
	}

	k := APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      req.Name,
		KeyPrefix: DisplayPrefix(plain),
		KeyHash:   HashKey(plain),
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, &k); err != nil {
		return nil, fmt.Errorf("issuing api key: %w", err)
	}

	slog.Info("api key issued", "user_id", userID, "key_id", k.ID, "prefix", k.KeyPrefix)
	return &IssuedKey{APIKey: k, Key: plain}, nil
}

// Authenticate resolves a presented key. Unknown, inactive and expired keys
// return the matching sentinel error.
func (s *Service) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if !ValidFormat(key) {
		return nil, ErrInvalidKey
	}

	k, err := s.store.FindByHash(ctx, HashKey(key))
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if k == nil {
		return nil, ErrInvalidKey
	}

	now := s.clock.Now()
	if !k.IsActive {
		return nil, ErrInactiveKey
	}
	if !k.UsableAt(now) {
		return nil, ErrExpiredKey
	}

	tier, err := s.tiers.TierForUser(ctx, k.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving tier: %w", err)
	}

	if err := s.store.TouchLastUsed(ctx, k.ID, now); err != nil {
		slog.Warn("api key: touching last used", "key_id", k.ID, "error", err)
	}

	return &Principal{KeyID: k.ID, UserID: k.UserID, Tier: tier}, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]APIKey, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) Revoke(ctx context.Context, userID, keyID uuid.UUID) error {
	ok, err := s.store.Revoke(ctx, userID, keyID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrKeyNotFound
	}
	slog.Info("api key revoked", "user_id", userID, "key_id", keyID)
	return nil
}
