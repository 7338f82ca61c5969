// Package audit moves rate limit events off the request path. Events are
// queued in memory and written to Postgres directly or through NATS
// JetStream, where a durable consumer persists them.
package audit

import (
	"context"

	inats "github.com/gradewise/meter/internal/nats"
	"github.com/gradewise/meter/internal/ratelimit"
)

// Sink persists or forwards one event.
type Sink interface {
	Write(ctx context.Context, e ratelimit.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e ratelimit.Event) error

func (f SinkFunc) Write(ctx context.Context, e ratelimit.Event) error { return f(ctx, e) }

// EventInserter stores events; *ratelimit.EventRepository satisfies it.
type EventInserter interface {
	Insert(ctx context.Context, e *ratelimit.Event) error
}

// EventPublisher is satisfied by *nats.Publisher.
type EventPublisher interface {
	PublishRateLimitEvent(ctx context.Context, event inats.RateLimitEvent) error
}

// RepositorySink writes events straight to the database.
func RepositorySink(repo EventInserter) Sink {
	return SinkFunc(func(ctx context.Context, e ratelimit.Event) error {
		return repo.Insert(ctx, &e)
	})
}

// PublisherSink publishes events for the Consumer to persist.
func PublisherSink(pub EventPublisher) Sink {
	return SinkFunc(func(ctx context.Context, e ratelimit.Event) error {
		return pub.PublishRateLimitEvent(ctx, toWire(e))
	})
}

func toWire(e ratelimit.Event) inats.RateLimitEvent {
	return inats.RateLimitEvent{
		ID:             e.ID,
		Identifier:     e.Identifier,
		IdentifierType: string(e.IdentifierType),
		Tier:           e.Tier,
		Endpoint:       e.Endpoint,
		Method:         e.Method,
		Blocked:        e.Blocked,
		RequestCount:   e.RequestCount,
		LimitValue:     e.LimitValue,
		Timestamp:      e.CreatedAt,
	}
}

func fromWire(ev inats.RateLimitEvent) ratelimit.Event {
	return ratelimit.Event{
		ID:             ev.ID,
		Identifier:     ev.Identifier,
		IdentifierType: ratelimit.IdentifierType(ev.IdentifierType),
		Tier:           ev.Tier,
		Endpoint:       ev.Endpoint,
		Method:         ev.Method,
		Blocked:        ev.Blocked,
		RequestCount:   ev.RequestCount,
		LimitValue:     ev.LimitValue,
		CreatedAt:      ev.Timestamp,
	}
}
