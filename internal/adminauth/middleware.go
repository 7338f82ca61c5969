package adminauth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gradewise/meter/internal/api"
)

type contextKey string

const claimsKey contextKey = "admin_claims"

// Middleware requires a bearer token carrying the admin role.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := m.Validate(parts[1])
			if err != nil {
				if errors.Is(err, ErrNotAdmin) {
					api.HandleError(w, api.ErrAdminRequired)
					return
				}
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// Subject returns the admin subject on ctx, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
