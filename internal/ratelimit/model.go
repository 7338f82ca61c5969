package ratelimit

import (
	"time"

	"github.com/google/uuid"
)

// IdentifierType says whether a limiter key is an API key id or a client IP.
type IdentifierType string

const (
	IdentifierAPIKey IdentifierType = "api_key"
	IdentifierIP     IdentifierType = "ip"
)

func (t IdentifierType) Valid() bool {
	return t == IdentifierAPIKey || t == IdentifierIP
}

// Override matches the rate_limit_overrides table schema.
type Override struct {
	ID           uuid.UUID      `json:"id"`
	TargetType   IdentifierType `json:"target_type"`
	TargetID     string         `json:"target_id"`
	MaxPerMinute int            `json:"max_per_minute"`
	MaxPerDay    int            `json:"max_per_day"`
	Reason       string         `json:"reason"`
	CreatedBy    string         `json:"created_by"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ActiveAt reports whether the override applies at now.
func (o *Override) ActiveAt(now time.Time) bool {
	if !o.IsActive {
		return false
	}
	return o.ExpiresAt == nil || now.Before(*o.ExpiresAt)
}

// CreateOverrideRequest is the admin payload for a new override.
type CreateOverrideRequest struct {
	TargetType   IdentifierType `json:"target_type" validate:"required,oneof=api_key ip"`
	TargetID     string         `json:"target_id" validate:"required,max=255"`
	MaxPerMinute int            `json:"max_per_minute" validate:"required,min=1"`
	MaxPerDay    int            `json:"max_per_day" validate:"required,min=1"`
	Reason       string         `json:"reason" validate:"max=500"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

// Event matches the rate_limit_events table schema. One row is written per
// request that reaches the limiter.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifier_type"`
	Tier           string         `json:"tier"`
	Endpoint       string         `json:"endpoint"`
	Method         string         `json:"method"`
	Blocked        bool           `json:"blocked"`
	RequestCount   int            `json:"request_count"`
	LimitValue     int            `json:"limit_value"`
	CreatedAt      time.Time      `json:"created_at"`
}
