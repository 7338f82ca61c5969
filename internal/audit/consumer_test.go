package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/gradewise/meter/internal/nats"
	"github.com/gradewise/meter/internal/ratelimit"
)

type memInserter struct {
	byID map[string]ratelimit.Event
}

func (m *memInserter) Insert(_ context.Context, e *ratelimit.Event) error {
	if m.byID == nil {
		m.byID = make(map[string]ratelimit.Event)
	}
	if _, ok := m.byID[e.ID.String()]; !ok {
		m.byID[e.ID.String()] = *e
	}
	return nil
}

type capturePublisher struct {
	events []inats.RateLimitEvent
}

func (p *capturePublisher) PublishRateLimitEvent(_ context.Context, ev inats.RateLimitEvent) error {
	p.events = append(p.events, ev)
	return nil
}

func TestPublisherSink_ConsumerPersistsSameEvent(t *testing.T) {
	pub := &capturePublisher{}
	e := sampleEvent(true)
	require.NoError(t, PublisherSink(pub).Write(context.Background(), e))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "ip", pub.events[0].IdentifierType)
	assert.Equal(t, e.CreatedAt, pub.events[0].Timestamp)

	payload, err := json.Marshal(pub.events[0])
	require.NoError(t, err)

	repo := &memInserter{}
	c := NewConsumer(repo, nil)
	require.NoError(t, c.persist(context.Background(), payload))
	require.NoError(t, c.persist(context.Background(), payload), "redelivery is absorbed")

	require.Len(t, repo.byID, 1)
	got := repo.byID[e.ID.String()]
	assert.Equal(t, e.Identifier, got.Identifier)
	assert.Equal(t, ratelimit.IdentifierIP, got.IdentifierType)
	assert.True(t, got.Blocked)
	assert.Equal(t, 11, got.RequestCount)
	assert.True(t, e.CreatedAt.Equal(got.CreatedAt))
}

func TestConsumer_MalformedPayload(t *testing.T) {
	c := NewConsumer(&memInserter{}, nil)
	err := c.persist(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, errMalformed)
}

func TestRepositorySink(t *testing.T) {
	repo := &memInserter{}
	e := sampleEvent(false)
	require.NoError(t, RepositorySink(repo).Write(context.Background(), e))
	assert.Contains(t, repo.byID, e.ID.String())
}
