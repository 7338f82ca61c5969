package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "meter",
			Password: "secret", Name: "meter", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT: JWTConfig{
			AdminSecret: "admin-secret-that-is-at-least-32-chars!",
			AdminExpiry: 12 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Store:         "redis",
			Window:        time.Minute,
			SweepInterval: time.Minute,
			OverrideTTL:   time.Minute,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_AdminSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AdminSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ADMIN_SECRET") {
		t.Fatalf("expected JWT_ADMIN_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_UnknownStore(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Store = "memcached"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "RATELIMIT_STORE") {
		t.Fatalf("expected RATELIMIT_STORE error, got: %v", err)
	}
}

func TestValidate_MemoryStoreAccepted(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Store = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected memory store to be valid, got: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0},
		DB:     DBConfig{Port: 5432},
		Redis:  RedisConfig{Port: 6379},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_ADMIN_SECRET", "DB_PASSWORD", "SERVER_PORT", "RATELIMIT_STORE", "RATELIMIT_WINDOW"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" ops@example.com, ,billing@example.com ")
	if len(got) != 2 || got[0] != "ops@example.com" || got[1] != "billing@example.com" {
		t.Fatalf("unexpected split result: %#v", got)
	}
	if splitList("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
