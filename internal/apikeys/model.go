package apikeys

import (
	"time"

	"github.com/google/uuid"
)

// APIKey matches the api_keys table schema. The plaintext key is never stored.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UsableAt reports whether the key may authenticate a request at now.
func (k *APIKey) UsableAt(now time.Time) bool {
	return k.IsActive && (k.ExpiresAt == nil || now.Before(*k.ExpiresAt))
}

type IssueRequest struct {
	Name      string     `json:"name" validate:"required,min=1,max=100"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// IssuedKey is returned once at creation; Key is the only copy of the plaintext.
type IssuedKey struct {
	APIKey
	Key string `json:"key"`
}

// Principal is the caller identity resolved from an API key.
type Principal struct {
	KeyID  uuid.UUID `json:"key_id"`
	UserID uuid.UUID `json:"user_id"`
	Tier   string    `json:"tier"`
}
