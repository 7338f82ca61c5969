package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/gradewise/meter/internal/nats"
)

const consumerName = "ratelimit-event-persister"

var errMalformed = errors.New("malformed event")

// Consumer listens on the rate limit event subject and persists events to the database.
type Consumer struct {
	repo        EventInserter
	consumerMgr *inats.ConsumerManager
}

func NewConsumer(repo EventInserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectRateLimitEvent)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(50, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) {
	err := c.persist(ctx, msg.Data())
	switch {
	case errors.Is(err, errMalformed):
		slog.Error("audit consumer: dropping event", "error", err)
		_ = msg.Term()
		return
	case err != nil:
		slog.Error("audit consumer: persisting event", "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// persist decodes and stores one message payload. Redelivered events are
// absorbed by the insert ignoring duplicate ids.
func (c *Consumer) persist(ctx context.Context, data []byte) error {
	var ev inats.RateLimitEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	e := fromWire(ev)
	if err := c.repo.Insert(ctx, &e); err != nil {
		return err
	}
	slog.Debug("audit consumer: persisted event", "event_id", e.ID, "blocked", e.Blocked)
	return nil
}
