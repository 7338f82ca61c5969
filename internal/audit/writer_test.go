package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradewise/meter/internal/metrics"
	"github.com/gradewise/meter/internal/ratelimit"
)

type memSink struct {
	mu     sync.Mutex
	events []ratelimit.Event
	err    error
}

func (s *memSink) Write(_ context.Context, e ratelimit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) all() []ratelimit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ratelimit.Event(nil), s.events...)
}

func sampleEvent(blocked bool) ratelimit.Event {
	return ratelimit.Event{
		ID:             uuid.New(),
		Identifier:     "203.0.113.7",
		IdentifierType: ratelimit.IdentifierIP,
		Tier:           "anonymous",
		Endpoint:       "/api/v1/tiers",
		Method:         "GET",
		Blocked:        blocked,
		RequestCount:   11,
		LimitValue:     10,
		CreatedAt:      time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
}

func closeWriter(t *testing.T, w *AsyncWriter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Close(ctx))
}

func TestAsyncWriter_WritesQueuedEventsBeforeClose(t *testing.T) {
	sink := &memSink{}
	w := NewAsyncWriter(sink, 16)
	w.Start()

	for i := 0; i < 10; i++ {
		w.RecordRateLimitEvent(context.Background(), sampleEvent(i%2 == 0))
	}
	closeWriter(t, w)

	assert.Len(t, sink.all(), 10)
}

func TestAsyncWriter_DropsWhenFull(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var written int

	sink := SinkFunc(func(context.Context, ratelimit.Event) error {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		written++
		mu.Unlock()
		return nil
	})

	w := NewAsyncWriter(sink, 1)
	w.Start()
	dropped := metrics.AuditDroppedTotal.WithLabelValues("buffer_full")
	before := testutil.ToFloat64(dropped)

	w.RecordRateLimitEvent(context.Background(), sampleEvent(false))
	<-started
	w.RecordRateLimitEvent(context.Background(), sampleEvent(false))
	w.RecordRateLimitEvent(context.Background(), sampleEvent(true))

	assert.Equal(t, before+1, testutil.ToFloat64(dropped))

	close(release)
	closeWriter(t, w)
	assert.Equal(t, 2, written)
}

func TestAsyncWriter_SinkErrorsAreCounted(t *testing.T) {
	sink := &memSink{err: errors.New("connection refused")}
	w := NewAsyncWriter(sink, 4)
	w.Start()
	failed := metrics.AuditDroppedTotal.WithLabelValues("write_failed")
	before := testutil.ToFloat64(failed)

	w.RecordRateLimitEvent(context.Background(), sampleEvent(true))
	closeWriter(t, w)

	assert.Equal(t, before+1, testutil.ToFloat64(failed))
}

func TestAsyncWriter_RecordAfterCloseIsDropped(t *testing.T) {
	w := NewAsyncWriter(&memSink{}, 4)
	w.Start()
	closeWriter(t, w)

	assert.NotPanics(t, func() {
		w.RecordRateLimitEvent(context.Background(), sampleEvent(false))
	})
	closeWriter(t, w)
}

func TestAsyncWriter_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	w := NewAsyncWriter(SinkFunc(func(context.Context, ratelimit.Event) error {
		<-release
		return nil
	}), 4)
	w.Start()
	w.RecordRateLimitEvent(context.Background(), sampleEvent(false))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
}
