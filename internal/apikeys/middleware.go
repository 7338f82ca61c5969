package apikeys

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gradewise/meter/internal/api"
)

type contextKey string

const principalKey contextKey = "api_key_principal"

// HeaderAPIKey is the header clients send their key in. A bearer
// Authorization header is accepted as well.
const HeaderAPIKey = "X-Api-Key"

// Authenticator resolves a presented key; *Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*Principal, error)
}

// APIKeyAuth rejects requests that do not carry a valid, active, unexpired key.
func APIKeyAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := FromContext(r.Context()); p != nil {
				next.ServeHTTP(w, r)
				return
			}

			key := extractKey(r)
			if key == "" {
				api.HandleError(w, api.ErrMissingAPIKey)
				return
			}

			p, ok := authenticate(w, r, auth, key)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// OptionalAPIKeyAuth lets requests without a key through as anonymous. A key
// that is presented but invalid is still rejected.
func OptionalAPIKeyAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, ok := authenticate(w, r, auth, key)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func authenticate(w http.ResponseWriter, r *http.Request, auth Authenticator, key string) (*Principal, bool) {
	p, err := auth.Authenticate(r.Context(), key)
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, ErrInvalidKey):
		api.HandleError(w, api.ErrInvalidAPIKey)
	case errors.Is(err, ErrInactiveKey), errors.Is(err, ErrExpiredKey):
		api.HandleError(w, &api.AppError{Code: http.StatusUnauthorized, Message: err.Error()})
	default:
		slog.Error("api key authentication failed", "error", err, "path", r.URL.Path)
		api.HandleError(w, api.ErrInternalServer)
	}
	return nil, false
}

func extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the authenticated principal, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
