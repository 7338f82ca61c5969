//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gradewise/meter/internal/adminauth"
	"github.com/gradewise/meter/internal/api"
	"github.com/gradewise/meter/internal/apikeys"
	"github.com/gradewise/meter/internal/audit"
	"github.com/gradewise/meter/internal/clock"
	"github.com/gradewise/meter/internal/quota"
	"github.com/gradewise/meter/internal/ratelimit"
	"github.com/gradewise/meter/internal/wallet"
)

const testAdminSecret = "test-admin-secret-32-chars-long!!!"

type TestEnv struct {
	Pool      *pgxpool.Pool
	Server    *httptest.Server
	Clock     *clock.Fake
	Admin     *adminauth.Manager
	Quota     *quota.Service
	Wallet    *wallet.Service
	Events    *ratelimit.EventRepository
	Overrides *ratelimit.OverrideRepository
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "meter_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/meter_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// The limiter runs on a frozen clock so windows never roll over mid-test.
	limiterClock := clock.NewFake(time.Now().UTC().Truncate(time.Minute).Add(time.Second))

	// Setup services
	eventRepo := ratelimit.NewEventRepository(pool)
	auditWriter := audit.NewAsyncWriter(audit.RepositorySink(eventRepo), audit.DefaultBuffer)
	auditWriter.Start()
	t.Cleanup(func() { auditWriter.Close(ctx) })

	overrideRepo := ratelimit.NewOverrideRepository(pool)
	overrideCache := ratelimit.NewOverrideCache(overrideRepo, time.Minute, limiterClock)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(limiterClock), overrideCache, auditWriter, limiterClock, time.Minute)
	rateLimitHandler := ratelimit.NewHandler(
		ratelimit.NewOverrideService(overrideRepo, overrideCache, limiterClock),
		ratelimit.NewReportService(eventRepo, limiterClock, 10),
	)

	quotaSvc := quota.NewService(quota.NewRepository(pool), nil)
	quotaHandler := quota.NewHandler(quotaSvc)

	keySvc := apikeys.NewService(apikeys.NewRepository(pool), quotaSvc, nil)
	keyHandler := apikeys.NewHandler(keySvc)

	walletSvc := wallet.NewService(wallet.NewRepository(pool), nil)
	walletHandler := wallet.NewHandler(walletSvc)

	adminMgr := adminauth.NewManager(testAdminSecret, time.Hour, nil)

	router := api.NewRouter(pool, nil, nil, api.RouterConfig{}, api.HandlerSet{
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

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:      pool,
		Server:    server,
		Clock:     limiterClock,
		Admin:     adminMgr,
		Quota:     quotaSvc,
		Wallet:    walletSvc,
		Events:    eventRepo,
		Overrides: overrideRepo,
	}

	return testEnv
}

func getMigrationsPath() string {
	// Try relative paths from test directory
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

var _uniqueCounter int64

func uniqueID() int64 {
	_uniqueCounter++
	return _uniqueCounter
}

// uniqueIP returns a documentation-range address not used by any other test.
func uniqueIP() string {
	n := uniqueID()
	return fmt.Sprintf("198.51.%d.%d", n/250, n%250+1)
}

func AdminToken(t *testing.T, env *TestEnv) string {
	t.Helper()
	token, err := env.Admin.Issue("admin@test.com")
	if err != nil {
		t.Fatalf("issuing admin token: %v", err)
	}
	return token
}

// IssueKey creates an API key for userID through the admin API and returns
// its plaintext.
func IssueKey(t *testing.T, env *TestEnv, userID uuid.UUID) string {
	t.Helper()
	path := fmt.Sprintf("/admin/users/%s/api-keys", userID)
	resp := DoRequest(t, env, "POST", path, map[string]string{"name": "integration"}, Bearer(AdminToken(t, env)))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issuing api key: status %d", resp.StatusCode)
	}
	data := ParseResponse(t, resp)["data"].(map[string]any)
	return data["key"].(string)
}

func Bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func APIKey(key string) map[string]string {
	return map[string]string{"X-API-Key": key}
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
