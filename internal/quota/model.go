package quota

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultTierName is used when a quota row has no tier assigned.
const DefaultTierName = "free"

// ScanType selects which tier cost a scan is charged at.
type ScanType string

const (
	ScanBasic    ScanType = "basic"
	ScanGTmetrix ScanType = "gtmetrix"
)

func (s ScanType) Valid() bool {
	return s == ScanBasic || s == ScanGTmetrix
}

// Tier matches the tiers table schema.
type Tier struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	DailyLimit        int    `json:"daily_limit"`
	MonthlyLimit      int    `json:"monthly_limit"`
	GTmetrixEnabled   bool   `json:"gtmetrix_enabled"`
	GTmetrixCost      int    `json:"gtmetrix_cost"`
	BasicScanCost     int    `json:"basic_scan_cost"`
	PriceMonthlyCents int    `json:"price_monthly_cents"`
	PriceYearlyCents  int    `json:"price_yearly_cents"`
}

// ScanCost returns the number of quota units a scan of type st consumes.
func (t *Tier) ScanCost(st ScanType) int {
	if st == ScanGTmetrix {
		return t.GTmetrixCost
	}
	return t.BasicScanCost
}

// Quota matches the user_quotas table schema.
type Quota struct {
	UserID            uuid.UUID `json:"user_id"`
	TotalCalls        int       `json:"total_calls"`
	UsedCalls         int       `json:"used_calls"`
	SubscriptionCalls int       `json:"subscription_calls"`
	PackCalls         int       `json:"pack_calls"`
	DailyUsed         int       `json:"daily_used"`
	MonthlyUsed       int       `json:"monthly_used"`
	LastDailyReset    time.Time `json:"last_daily_reset"`
	LastMonthlyReset  time.Time `json:"last_monthly_reset"`
	TierID            *int      `json:"tier_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CallPack matches the call_packs table schema. PackSize never changes after
// purchase; CallsRemaining only decreases.
type CallPack struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	PackSize       int       `json:"pack_size"`
	CallsRemaining int       `json:"calls_remaining"`
	PurchasedAt    time.Time `json:"purchased_at"`
}

// Bucket names the allowance an API call was charged to.
type Bucket string

const (
	BucketSubscription Bucket = "subscription"
	BucketPack         Bucket = "pack"
	// BucketOverdraft is a call charged past every allowance.
	BucketOverdraft Bucket = "overdraft"
)

// UsageLog matches the api_usage_logs table schema. Rows are append-only.
type UsageLog struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	APIKeyID       *uuid.UUID      `json:"api_key_id,omitempty"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	StatusCode     int             `json:"status_code"`
	ResponseTimeMs int             `json:"response_time_ms"`
	Bucket         Bucket          `json:"bucket"`
	IPAddress      string          `json:"ip_address,omitempty"`
	UserAgent      string          `json:"user_agent,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Reason explains why a scan was refused.
type Reason string

const (
	ReasonFeatureNotAllowed   Reason = "feature_not_allowed"
	ReasonDailyLimitReached   Reason = "daily_limit_reached"
	ReasonMonthlyLimitReached Reason = "monthly_limit_reached"
)

// ScanResult is returned by ConsumeScan on every path so callers can render
// the remaining budget without another round-trip.
type ScanResult struct {
	Allowed          bool     `json:"allowed"`
	Reason           Reason   `json:"reason,omitempty"`
	ScanType         ScanType `json:"scan_type"`
	Cost             int      `json:"cost"`
	Tier             string   `json:"tier"`
	DailyRemaining   int      `json:"daily_remaining"`
	MonthlyRemaining int      `json:"monthly_remaining"`
}

// CallRecord describes one metered API call.
type CallRecord struct {
	UserID         uuid.UUID
	APIKeyID       *uuid.UUID
	Endpoint       string
	Method         string
	StatusCode     int
	ResponseTimeMs int
	IPAddress      string
	UserAgent      string
	Metadata       map[string]any
}

// APICallResult reports where a call was charged. Remaining may be negative.
type APICallResult struct {
	Success   bool       `json:"success"`
	Remaining int        `json:"remaining"`
	Bucket    Bucket     `json:"bucket"`
	PackID    *uuid.UUID `json:"pack_id,omitempty"`
}

// QuotaWithTier is the dashboard view of a user's allowance.
type QuotaWithTier struct {
	Quota            *Quota `json:"quota"`
	Tier             *Tier  `json:"tier"`
	DailyRemaining   int    `json:"daily_remaining"`
	MonthlyRemaining int    `json:"monthly_remaining"`
	CallsRemaining   int    `json:"calls_remaining"`
}
