package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds every event published by the service.
const StreamEvents = "METER_EVENTS"

const (
	SubjectEventsAll      = "meter.events.>"
	SubjectRateLimitEvent = "meter.events.ratelimit"
)

// RateLimitEvent is published for every limiter decision.
type RateLimitEvent struct {
	ID             uuid.UUID `json:"id"`
	Identifier     string    `json:"identifier"`
	IdentifierType string    `json:"identifier_type"`
	Tier           string    `json:"tier"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	Blocked        bool      `json:"blocked"`
	RequestCount   int       `json:"request_count"`
	LimitValue     int       `json:"limit_value"`
	Timestamp      time.Time `json:"timestamp"`
}
