//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradewise/meter/internal/ratelimit"
)

func countEvents(t *testing.T, env *TestEnv, identifier string, blocked bool) int {
	t.Helper()
	var n int
	err := env.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM rate_limit_events WHERE identifier = $1 AND blocked = $2`,
		identifier, blocked).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestRateLimit_AnonymousBlockedAndRecorded(t *testing.T) {
	env := SetupTestEnv(t)
	ip := uniqueIP()
	headers := map[string]string{"X-Forwarded-For": ip}

	for i := 1; i <= 10; i++ {
		resp := DoRequest(t, env, "GET", "/api/v1/tiers", nil, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
		assert.Equal(t, "10", resp.Header.Get(ratelimit.HeaderLimit))
		resp.Body.Close()
	}

	resp := DoRequest(t, env, "GET", "/api/v1/tiers", nil, headers)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", ParseResponse(t, resp)["error"])

	require.Eventually(t, func() bool {
		return countEvents(t, env, ip, false) == 10 && countEvents(t, env, ip, true) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRateLimit_KeyedRequestsUseTierLimit(t *testing.T) {
	env := SetupTestEnv(t)
	key := IssueKey(t, env, uuid.New())

	resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, APIKey(key))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", resp.Header.Get(ratelimit.HeaderTier))
	assert.Equal(t, fmt.Sprint(ratelimit.LimitsForTier("free").Max), resp.Header.Get(ratelimit.HeaderLimit))
	resp.Body.Close()
}

func TestRateLimit_OverrideLifecycle(t *testing.T) {
	env := SetupTestEnv(t)
	admin := Bearer(AdminToken(t, env))
	ip := uniqueIP()

	body := map[string]any{
		"target_type":    "ip",
		"target_id":      ip,
		"max_per_minute": 1000,
		"max_per_day":    100000,
		"reason":         "partner load test",
	}
	resp := DoRequest(t, env, "POST", "/admin/ratelimit/overrides", body, admin)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := ParseResponse(t, resp)["data"].(map[string]any)
	assert.Equal(t, "admin@test.com", created["created_by"])
	overrideID := created["id"].(string)

	resp = DoRequest(t, env, "POST", "/admin/ratelimit/overrides", body, admin)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	headers := map[string]string{"X-Forwarded-For": ip}
	for i := 0; i < 15; i++ {
		resp := DoRequest(t, env, "GET", "/api/v1/tiers", nil, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
		assert.Equal(t, "1000", resp.Header.Get(ratelimit.HeaderLimit))
		resp.Body.Close()
	}

	resp = DoRequest(t, env, "GET", "/admin/ratelimit/overrides", nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := false
	for _, o := range ParseResponse(t, resp)["data"].([]any) {
		if o.(map[string]any)["id"] == overrideID {
			found = true
		}
	}
	assert.True(t, found)

	resp = DoRequest(t, env, "DELETE", "/admin/ratelimit/overrides/"+overrideID, nil, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "DELETE", "/admin/ratelimit/overrides/"+overrideID, nil, admin)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Deactivation invalidates the cached override, so the anonymous limit
	// applies again and the 15 requests above already exceed it.
	resp = DoRequest(t, env, "GET", "/api/v1/tiers", nil, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimit_OverrideUniquePerActiveTarget(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	target := uuid.NewString()
	now := time.Now()

	first := &ratelimit.Override{
		ID: uuid.New(), TargetType: ratelimit.IdentifierAPIKey, TargetID: target,
		MaxPerMinute: 100, MaxPerDay: 1000, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.Overrides.Create(ctx, first))

	dup := *first
	dup.ID = uuid.New()
	assert.ErrorIs(t, env.Overrides.Create(ctx, &dup), ratelimit.ErrOverrideExists)

	_, err := env.Overrides.Deactivate(ctx, first.ID, now)
	require.NoError(t, err)
	assert.NoError(t, env.Overrides.Create(ctx, &dup), "a deactivated override frees the target")

	got, err := env.Overrides.FindActive(ctx, ratelimit.IdentifierAPIKey, target, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dup.ID, got.ID)
}

func TestRateLimit_ReportAggregatesEvents(t *testing.T) {
	env := SetupTestEnv(t)
	ip := uniqueIP()
	headers := map[string]string{"X-Forwarded-For": ip}

	for i := 0; i < 12; i++ {
		resp := DoRequest(t, env, "GET", "/api/v1/tiers", nil, headers)
		resp.Body.Close()
	}
	require.Eventually(t, func() bool {
		return countEvents(t, env, ip, false)+countEvents(t, env, ip, true) == 12
	}, 5*time.Second, 50*time.Millisecond)

	now := env.Clock.Now()
	q := url.Values{}
	q.Set("from", now.Add(-time.Hour).Format(time.RFC3339))
	q.Set("to", now.Add(time.Hour).Format(time.RFC3339))

	resp := DoRequest(t, env, "GET", "/admin/ratelimit/report?"+q.Encode(), nil, Bearer(AdminToken(t, env)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := ParseResponse(t, resp)["data"].(map[string]any)
	assert.GreaterOrEqual(t, rep["total_requests"].(float64), float64(12))
	assert.GreaterOrEqual(t, rep["blocked_requests"].(float64), float64(2))

	resp = DoRequest(t, env, "GET", "/admin/ratelimit/report?from=yesterday", nil, Bearer(AdminToken(t, env)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
