package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gradewise/meter/internal/metrics"
	"github.com/gradewise/meter/internal/ratelimit"
)

const (
	DefaultBuffer = 1024
	writeTimeout  = 5 * time.Second
)

// AsyncWriter queues events and writes them to a Sink from one background
// goroutine. RecordRateLimitEvent never blocks; when the queue is full the
// event is dropped and counted.
type AsyncWriter struct {
	sink   Sink
	events chan ratelimit.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	dropLog rate.Sometimes
}

func NewAsyncWriter(sink Sink, buffer int) *AsyncWriter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &AsyncWriter{
		sink:    sink,
		events:  make(chan ratelimit.Event, buffer),
		done:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Start launches the writer goroutine.
func (w *AsyncWriter) Start() {
	go w.run()
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for e := range w.events {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.sink.Write(ctx, e)
		cancel()
		if err != nil {
			metrics.AuditDroppedTotal.WithLabelValues("write_failed").Inc()
			slog.Warn("audit: writing rate limit event", "error", err, "event_id", e.ID)
		}
	}
}

// RecordRateLimitEvent queues e for writing.
func (w *AsyncWriter) RecordRateLimitEvent(_ context.Context, e ratelimit.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.AuditDroppedTotal.WithLabelValues("closed").Inc()
		return
	}

	select {
	case w.events <- e:
	default:
		metrics.AuditDroppedTotal.WithLabelValues("buffer_full").Inc()
		w.dropLog.Do(func() {
			slog.Warn("audit: buffer full, dropping rate limit events", "capacity", cap(w.events))
		})
	}
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to end.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
