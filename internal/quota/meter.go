package quota

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gradewise/meter/internal/apikeys"
	mw "github.com/gradewise/meter/internal/middleware"
)

const meterTimeout = 5 * time.Second

// CallConsumer charges one API call; *Service satisfies it.
type CallConsumer interface {
	ConsumeAPICall(ctx context.Context, rec CallRecord) (*APICallResult, error)
}

// Meter charges every request made with an API key once the handler has
// finished, whatever its status. Charging failures are logged and never
// change the response.
func Meter(consumer CallConsumer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := apikeys.FromContext(r.Context())
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := mw.WrapStatus(w)
			next.ServeHTTP(ww, r)

			keyID := p.KeyID
			rec := CallRecord{
				UserID:         p.UserID,
				APIKeyID:       &keyID,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     mw.StatusOf(ww),
				ResponseTimeMs: int(time.Since(start).Milliseconds()),
				IPAddress:      mw.ClientIP(r),
				UserAgent:      r.UserAgent(),
			}
			if id := mw.GetRequestID(r.Context()); id != "" {
				rec.Metadata = map[string]any{"request_id": id}
			}

			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), meterTimeout)
			defer cancel()
			if _, err := consumer.ConsumeAPICall(ctx, rec); err != nil {
				slog.Warn("metering api call", "error", err, "user_id", p.UserID, "path", r.URL.Path)
			}
		})
	}
}
