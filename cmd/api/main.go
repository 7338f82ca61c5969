package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gradewise/meter/internal/adminauth"
	"github.com/gradewise/meter/internal/api"
	"github.com/gradewise/meter/internal/apikeys"
	"github.com/gradewise/meter/internal/audit"
	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/config"
	"github.com/gradewise/meter/internal/database"
	"github.com/gradewise/meter/internal/mailer"
	inats "github.com/gradewise/meter/internal/nats"
	"github.com/gradewise/meter/internal/quota"
	"github.com/gradewise/meter/internal/ratelimit"
	iredis "github.com/gradewise/meter/internal/redis"
	"github.com/gradewise/meter/internal/server"
	"github.com/gradewise/meter/internal/wallet"
)

const reportTopIdentifiers = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}

	// PostgreSQL
	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		return err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Redis (only for shared rate limit windows)
	var redisClient *redis.Client
	if cfg.RateLimit.Store == "redis" {
		redisClient, err = iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// NATS (optional audit transport)
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			return err
		}
		defer natsClient.Close()
	}

	// Audit
	eventRepo := ratelimit.NewEventRepository(pool)
	sink := audit.RepositorySink(eventRepo)
	if natsClient != nil {
		sink = audit.PublisherSink(inats.NewPublisher(natsClient.JetStream()))
		consumer := audit.NewConsumer(eventRepo, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("audit consumer stopped", "error", err)
			}
		}()
	}
	auditWriter := audit.NewAsyncWriter(sink, cfg.RateLimit.AuditBuffer)
	auditWriter.Start()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := auditWriter.Close(closeCtx); err != nil {
			slog.Warn("audit writer did not drain", "error", err)
		}
	}()

	// Rate limiting
	overrideRepo := ratelimit.NewOverrideRepository(pool)
	overrideCache := ratelimit.NewOverrideCache(overrideRepo, cfg.RateLimit.OverrideTTL, clk)
	go overrideCache.Run(ctx, cfg.RateLimit.SweepInterval)

	var windows ratelimit.WindowStore
	if redisClient != nil {
		windows = ratelimit.NewRedisStore(redisClient, clk)
	} else {
		mem := ratelimit.NewMemoryStore(clk)
		go mem.Run(ctx, cfg.RateLimit.SweepInterval)
		windows = mem
	}
	limiter := ratelimit.NewLimiter(windows, overrideCache, auditWriter, clk, cfg.RateLimit.Window)
	overrideSvc := ratelimit.NewOverrideService(overrideRepo, overrideCache, clk)
	reportSvc := ratelimit.NewReportService(eventRepo, clk, reportTopIdentifiers)
	rateLimitHandler := ratelimit.NewHandler(overrideSvc, reportSvc)

	// Hourly reports
	var sender ratelimit.Mailer = mailer.Log{}
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTP(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	scheduler := ratelimit.NewReportScheduler(reportSvc, sender, cfg.Reports.Recipients, cfg.Reports.Schedule)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Quota, keys and wallet
	quotaSvc := quota.NewService(quota.NewRepository(pool), clk)
	quotaHandler := quota.NewHandler(quotaSvc)

	keySvc := apikeys.NewService(apikeys.NewRepository(pool), quotaSvc, clk)
	keyHandler := apikeys.NewHandler(keySvc)

	walletSvc := wallet.NewService(wallet.NewRepository(pool), clk)
	walletHandler := wallet.NewHandler(walletSvc)

	adminMgr := adminauth.NewManager(cfg.JWT.AdminSecret, cfg.JWT.AdminExpiry, clk)

	// Router
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	}, api.HandlerSet{
		ListTiers: quotaHandler.ListTiers,

		Scan:             quotaHandler.Scan,
		GetQuota:         quotaHandler.GetQuota,
		ListUsage:        quotaHandler.UsageLogs,
		GetWallet:        walletHandler.GetWallet,
		ListTransactions: walletHandler.ListTransactions,
		DebitTokens:      walletHandler.Debit,

		IssueAPIKey:          keyHandler.Issue,
		ListAPIKeys:          keyHandler.List,
		RevokeAPIKey:         keyHandler.Revoke,
		AdminGetQuota:        quotaHandler.AdminGetQuota,
		SetUserTier:          quotaHandler.AdminSetTier,
		AddSubscriptionCalls: quotaHandler.AdminAddSubscriptionCalls,
		AddPackCalls:         quotaHandler.AdminAddPack,
		AdminGetWallet:       walletHandler.AdminGetWallet,
		CreditTokens:         walletHandler.AdminCredit,
		AdjustBalance:        walletHandler.AdminAdjust,
		VerifyLedger:         walletHandler.AdminVerify,

		ListOverrides:      rateLimitHandler.ListOverrides,
		CreateOverride:     rateLimitHandler.CreateOverride,
		DeactivateOverride: rateLimitHandler.DeactivateOverride,
		RateLimitReport:    rateLimitHandler.Report,

		OptionalAPIKeyAuth: apikeys.OptionalAPIKeyAuth(keySvc),
		APIKeyAuth:         apikeys.APIKeyAuth(keySvc),
		RateLimiter:        limiter.Middleware,
		Meter:              quota.Meter(quotaSvc),
		AdminAuth:          adminauth.Middleware(adminMgr),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	return srv.Start()
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
