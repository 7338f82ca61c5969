package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Admin JWT secret
	if len(c.JWT.AdminSecret) < 32 {
		errs = append(errs, "JWT_ADMIN_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Rate limiting
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("RATELIMIT_STORE must be memory or redis, got %q", c.RateLimit.Store))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, "RATELIMIT_WINDOW must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		errs = append(errs, "RATELIMIT_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimit.Store == "memory" {
		slog.Warn("RATELIMIT_STORE=memory: rate limit windows are per-process and not shared between instances")
	}

	// Report mail: warn only
	if len(c.Reports.Recipients) > 0 && c.SMTP.Host == "" {
		slog.Warn("REPORTS_RECIPIENTS set but SMTP_HOST is empty, hourly reports will not be mailed")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
