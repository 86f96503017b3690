package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/ratelimit-service/internal/config"
	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/service"
	"github.com/aman-churiwal/ratelimit-service/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.RateLimit.Tiers[models.TierGuest] = models.TierLimit{WindowMs: 60000, MaxRequests: 2}
	return cfg
}

func newTestServer(t *testing.T, mr *miniredis.Miniredis) *Server {
	t.Helper()

	var rc *storage.RedisClient
	if mr != nil {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { client.Close() })
		rc = storage.NewRedisFromClient(client)
	}

	s, err := New(testConfig(), rc, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	return s
}

func token(t *testing.T, role string) string {
	t.Helper()

	auth := service.NewAuthService(nil, testSecret, 1)
	tok, err := auth.IssueToken(&models.User{ID: uuid.New(), Email: role + "@example.com", Role: role})
	require.NoError(t, err)
	return tok
}

func call(s *Server, method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(w, req)
	return w
}

func TestServer_GuestIsLimited(t *testing.T) {
	s := newTestServer(t, miniredis.RunT(t))

	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)
	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)

	w := call(s, http.MethodGet, "/api/rate-limit/status", "", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// exempt paths keep working
	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/health", "", "").Code)
}

func TestServer_AdminRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, mr)
	admin := token(t, models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, call(s, http.MethodGet, "/api/admin/rate-limit/config", "", "").Code)
	assert.Equal(t, http.StatusForbidden, call(s, http.MethodGet, "/api/admin/rate-limit/config", token(t, models.RoleStudent), "").Code)

	w := call(s, http.MethodGet, "/api/admin/rate-limit/config", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", w.Header().Get("X-RateLimit-Tier"))
	assert.Contains(t, w.Body.String(), `"guest":{"windowMs":60000,"maxRequests":2}`)

	for i := 0; i < 3; i++ {
		call(s, http.MethodGet, "/api/rate-limit/status", "", "")
	}
	assert.True(t, mr.Exists("rl:ip:192.0.2.1"))

	w = call(s, http.MethodGet, "/api/admin/rate-limit/stats/ip:192.0.2.1", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":3`)

	w = call(s, http.MethodDelete, "/api/admin/rate-limit/stats/ip:192.0.2.1", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mr.Exists("rl:ip:192.0.2.1"))
	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)

	w = call(s, http.MethodPut, "/api/admin/rate-limit/config", admin, `{"enabled": false}`)
	require.Equal(t, http.StatusOK, w.Code)

	for i := 0; i < 5; i++ {
		w = call(s, http.MethodGet, "/api/rate-limit/status", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}

	// no database, no auth routes
	assert.Equal(t, http.StatusNotFound, call(s, http.MethodPost, "/api/auth/login", "", `{}`).Code)
}

func TestServer_RedisOutageFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, mr)
	admin := token(t, models.RoleAdmin)

	mr.SetError("LOADING server is loading")

	// failures are let through until the breaker opens
	for i := 0; i < 5; i++ {
		w := call(s, http.MethodGet, "/api/rate-limit/status", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)
	assert.Equal(t, http.StatusOK, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, call(s, http.MethodGet, "/api/rate-limit/status", "", "").Code)

	w := call(s, http.MethodGet, "/api/admin/rate-limit/store", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"open"`)

	// the local store keeps the instance serving
	s.health.CheckAll()
	w = call(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	mr.SetError("")
	s.health.CheckAll()
	w = call(s, http.MethodPost, "/api/admin/rate-limit/store/reset", admin, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = call(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"store_breaker":"closed"`)
}

func TestServer_BreakerOpenWithHealthyProbesIsDegraded(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, mr)

	mr.SetError("LOADING server is loading")
	for i := 0; i < 5; i++ {
		call(s, http.MethodGet, "/api/rate-limit/status", "", "")
	}
	mr.SetError("")
	s.health.CheckAll()

	w := call(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"store_breaker":"open"`)
}

func callFrom(s *Server, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/rate-limit/status", nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)

	w := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(w, req)
	return w
}

func TestServer_ForwardedForIgnoredByDefault(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 1; i <= 2; i++ {
		w := callFrom(s, "203.0.113.7:5555", fmt.Sprintf("198.51.100.%d", i))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := callFrom(s, "203.0.113.7:5555", "198.51.100.3")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	rec, err := s.Limiter().GetStats(context.Background(), "ip:203.0.113.7")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Count)
}

func TestServer_ForwardedForFromTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"203.0.113.7"}

	s, err := New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	for i := 1; i <= 5; i++ {
		w := callFrom(s, "203.0.113.7:5555", fmt.Sprintf("198.51.100.%d", i))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// an untrusted peer cannot pick its identity
	assert.Equal(t, http.StatusOK, callFrom(s, "192.0.2.50:1000", "198.51.100.1").Code)
	assert.Equal(t, http.StatusOK, callFrom(s, "192.0.2.50:1000", "198.51.100.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, callFrom(s, "192.0.2.50:1000", "198.51.100.3").Code)
}

func TestNew_RejectsBadTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"not-an-ip"}

	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestServer_MemoryOnly(t *testing.T) {
	s := newTestServer(t, nil)

	w := call(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	call(s, http.MethodGet, "/api/rate-limit/status", "", "")

	w = call(s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ratelimit_decisions_total")

	w = call(s, http.MethodGet, "/api/admin/rate-limit/store", token(t, models.RoleAdmin), "")
	assert.JSONEq(t, `{"backend":"memory"}`, w.Body.String())
}

func TestNew_RejectsBadExemptPattern(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.ExemptPatterns = []string{"(["}

	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}
