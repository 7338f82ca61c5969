package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/gradewise/meter/internal/database"
	mw "github.com/gradewise/meter/internal/middleware"
	inats "github.com/gradewise/meter/internal/nats"
	iredis "github.com/gradewise/meter/internal/redis"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Public
	ListTiers http.HandlerFunc

	// Key-authenticated and metered
	Scan             http.HandlerFunc
	GetQuota         http.HandlerFunc
	ListUsage        http.HandlerFunc
	GetWallet        http.HandlerFunc
	ListTransactions http.HandlerFunc
	DebitTokens      http.HandlerFunc

	// Admin: users
	IssueAPIKey          http.HandlerFunc
	ListAPIKeys          http.HandlerFunc
	RevokeAPIKey         http.HandlerFunc
	AdminGetQuota        http.HandlerFunc
	SetUserTier          http.HandlerFunc
	AddSubscriptionCalls http.HandlerFunc
	AddPackCalls         http.HandlerFunc
	AdminGetWallet       http.HandlerFunc
	CreditTokens         http.HandlerFunc
	AdjustBalance        http.HandlerFunc
	VerifyLedger         http.HandlerFunc

	// Admin: rate limiting
	ListOverrides      http.HandlerFunc
	CreateOverride     http.HandlerFunc
	DeactivateOverride http.HandlerFunc
	RateLimitReport    http.HandlerFunc

	// Middleware
	OptionalAPIKeyAuth func(http.Handler) http.Handler
	APIKeyAuth         func(http.Handler) http.Handler
	RateLimiter        func(http.Handler) http.Handler
	Meter              func(http.Handler) http.Handler
	AdminAuth          func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
}

// NewRouter wires the HTTP surface. redisClient and natsClient may be nil
// when those backends are not configured.
func NewRouter(pool *pgxpool.Pool, redisClient *redis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe: checks DB, Redis, NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if redisClient == nil {
			health["redis"] = "not configured"
		} else if err := iredis.HealthCheck(r.Context(), redisClient); err != nil {
			// The limiter fails open on Redis errors, so readiness only degrades.
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
		}

		if natsClient == nil {
			health["nats"] = "not configured"
		} else if !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.OptionalAPIKeyAuth)
		r.Use(h.RateLimiter)

		r.Get("/tiers", h.ListTiers)

		// Key-authenticated routes, each call charged to the caller's quota
		r.Group(func(r chi.Router) {
			r.Use(h.APIKeyAuth)
			r.Use(h.Meter)

			r.Post("/scans", h.Scan)
			r.Get("/quota", h.GetQuota)
			r.Get("/quota/usage", h.ListUsage)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.Get("/transactions", h.ListTransactions)
				r.Post("/debit", h.DebitTokens)
			})
		})
	})

	// Admin
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.AdminAuth)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/api-keys", h.ListAPIKeys)
			r.Post("/api-keys", h.IssueAPIKey)
			r.Delete("/api-keys/{keyID}", h.RevokeAPIKey)

			r.Get("/quota", h.AdminGetQuota)
			r.Put("/tier", h.SetUserTier)
			r.Post("/subscription-calls", h.AddSubscriptionCalls)
			r.Post("/packs", h.AddPackCalls)

			r.Get("/wallet", h.AdminGetWallet)
			r.Get("/wallet/verify", h.VerifyLedger)
			r.Post("/tokens/credit", h.CreditTokens)
			r.Post("/tokens/adjust", h.AdjustBalance)
		})

		r.Route("/ratelimit", func(r chi.Router) {
			r.Get("/overrides", h.ListOverrides)
			r.Post("/overrides", h.CreateOverride)
			r.Delete("/overrides/{id}", h.DeactivateOverride)
			r.Get("/report", h.RateLimitReport)
		})
	})

	return r
}
