package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthenticate(t *testing.T) {
	resolver := fakeResolver{"good": {ID: "u1", Role: models.RoleTutor, Premium: true}}

	var got *ratelimit.Caller
	r := gin.New()
	r.Use(Authenticate(resolver))
	r.GET("/", func(c *gin.Context) {
		got = CallerFrom(c)
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{"no header", "", ""},
		{"valid", "Bearer good", "u1"},
		{"lowercase scheme", "bearer good", "u1"},
		{"invalid token", "Bearer bad", ""},
		{"wrong scheme", "Basic good", ""},
		{"malformed", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
			assert.True(t, got.Premium)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	resolver := fakeResolver{
		"student": {ID: "s1", Role: models.RoleStudent},
		"admin":   {ID: "a1", Role: models.RoleAdmin},
	}

	r := gin.New()
	r.Use(Authenticate(resolver))
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/me", RequireAuth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, do(r, "/admin", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", "student").Code)
	assert.Equal(t, http.StatusOK, do(r, "/admin", "admin").Code)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "/me", "student").Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := do(r, "/", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/", func(c *gin.Context) { panic("boom") })

	w := do(r, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())
}
