package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gradewise/meter/internal/api"
	"github.com/gradewise/meter/internal/apikeys"
	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/metrics"
	mw "github.com/gradewise/meter/internal/middleware"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderTier      = "X-RateLimit-Tier"
)

// EventRecorder receives one event per limited request. Implementations
// must return without waiting on I/O.
type EventRecorder interface {
	RecordRateLimitEvent(ctx context.Context, e Event)
}

// OverrideSource returns the override active for a target, or nil.
type OverrideSource interface {
	Get(ctx context.Context, targetType IdentifierType, targetID string) *Override
}

// Decision is the outcome of counting one request.
type Decision struct {
	Identifier     string
	IdentifierType IdentifierType
	Tier           string
	Limits         Limits
	Overridden     bool
	Count          int
	ResetAt        time.Time
	Blocked        bool
}

// Remaining is how many more requests fit in the current window.
func (d *Decision) Remaining() int {
	return max(d.Limits.Max-d.Count, 0)
}

// Limiter enforces fixed-window request limits per API key or client IP.
type Limiter struct {
	store     WindowStore
	overrides OverrideSource
	recorder  EventRecorder
	clock     clock.Clock
	window    time.Duration
}

// NewLimiter creates a Limiter. overrides and recorder may be nil.
func NewLimiter(store WindowStore, overrides OverrideSource, recorder EventRecorder, clk clock.Clock, window time.Duration) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		store:     store,
		overrides: overrides,
		recorder:  recorder,
		clock:     clk,
		window:    window,
	}
}

// Identify returns the limiter key for r: the API key id when the request
// is authenticated, the client IP otherwise, along with the caller's tier.
func Identify(r *http.Request) (IdentifierType, string, string) {
	if p := apikeys.FromContext(r.Context()); p != nil {
		tier := p.Tier
		if tier == "" {
			tier = "free"
		}
		return IdentifierAPIKey, p.KeyID.String(), tier
	}
	return IdentifierIP, mw.ClientIP(r), AnonymousTier
}

// Allow counts one request for the identifier and decides whether it is
// over its limit.
func (l *Limiter) Allow(ctx context.Context, idType IdentifierType, id, tier string) (*Decision, error) {
	d := &Decision{
		Identifier:     id,
		IdentifierType: idType,
		Tier:           tier,
		Limits:         LimitsForTier(tier).withWindow(l.window),
	}

	if l.overrides != nil {
		if o := l.overrides.Get(ctx, idType, id); o != nil {
			d.Limits = Limits{Max: o.MaxPerMinute, DailyMax: o.MaxPerDay, Window: l.window}
			d.Overridden = true
		}
	}

	count, resetAt, err := l.store.Incr(ctx, string(idType)+":"+id, d.Limits.Window)
	if err != nil {
		return nil, err
	}
	d.Count = count
	d.ResetAt = resetAt
	d.Blocked = count > d.Limits.Max
	return d, nil
}

// Middleware enforces the limit on each request. Store failures let the
// request through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idType, id, tier := Identify(r)

		d, err := l.Allow(r.Context(), idType, id, tier)
		if err != nil {
			slog.Warn("rate limiter: store error, failing open", "error", err, "identifier_type", idType, "tier", tier)
			metrics.RateLimitDecisionsTotal.WithLabelValues(tier, "error").Inc()
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set(HeaderLimit, strconv.Itoa(d.Limits.Max))
		h.Set(HeaderRemaining, strconv.Itoa(d.Remaining()))
		h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
		h.Set(HeaderTier, d.Tier)

		l.record(r, d)

		if d.Blocked {
			metrics.RateLimitDecisionsTotal.WithLabelValues(tier, "blocked").Inc()
			retryAfter := l.retryAfter(d.ResetAt)
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			api.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter,
			})
			return
		}

		metrics.RateLimitDecisionsTotal.WithLabelValues(tier, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) retryAfter(resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(l.clock.Now()).Seconds()))
	return max(secs, 1)
}

func (l *Limiter) record(r *http.Request, d *Decision) {
	if l.recorder == nil {
		return
	}
	l.recorder.RecordRateLimitEvent(r.Context(), Event{
		ID:             uuid.New(),
		Identifier:     d.Identifier,
		IdentifierType: d.IdentifierType,
		Tier:           d.Tier,
		Endpoint:       r.URL.Path,
		Method:         r.Method,
		Blocked:        d.Blocked,
		RequestCount:   d.Count,
		LimitValue:     d.Limits.Max,
		CreatedAt:      l.clock.Now(),
	})
}
