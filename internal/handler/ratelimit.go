package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aman-churiwal/ratelimit-service/internal/middleware"
	"github.com/aman-churiwal/ratelimit-service/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type RateLimitHandler struct {
	limiter *ratelimit.Limiter
}

func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Handles GET /api/rate-limit/status
// The middleware has already counted this request, the response shows the result.
func (h *RateLimitHandler) Status(c *gin.Context) {
	d, ok := middleware.DecisionFrom(c)
	if !ok {
		info := ratelimit.RequestInfo{
			Caller:     middleware.CallerFrom(c),
			RemoteAddr: c.ClientIP(),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
		}
		d = h.limiter.CheckRateLimit(c.Request.Context(), info)
	}

	if !d.Active() {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":    true,
		"tier":       d.Tier,
		"identifier": d.Identifier,
		"limit":      d.Limit,
		"remaining":  d.Remaining,
		"resetTime":  d.ResetTime.UTC(),
		"degraded":   d.Degraded,
	})
}

// Handles GET /api/admin/rate-limit/config
func (h *RateLimitHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.limiter.Config())
}

// Handles PUT /api/admin/rate-limit/config
func (h *RateLimitHandler) UpdateConfig(c *gin.Context) {
	var patch ratelimit.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid configuration document: " + err.Error()})
		return
	}

	settings, err := h.limiter.UpdateConfig(patch)
	if errors.Is(err, ratelimit.ErrInvalidConfig) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Rate limit configuration updated",
		"config":  settings,
	})
}

// Handles GET /api/admin/rate-limit/stats/:identifier
func (h *RateLimitHandler) GetStats(c *gin.Context) {
	identifier, ok := identifierParam(c)
	if !ok {
		return
	}

	rec, err := h.limiter.GetStats(c.Request.Context(), identifier)
	if errors.Is(err, ratelimit.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limit store unavailable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active window for identifier"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identifier": identifier,
		"window":     rec,
	})
}

// Handles DELETE /api/admin/rate-limit/stats/:identifier
func (h *RateLimitHandler) ClearStats(c *gin.Context) {
	identifier, ok := identifierParam(c)
	if !ok {
		return
	}

	if !h.limiter.Clear(c.Request.Context(), identifier) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to clear rate limit window"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Rate limit window cleared",
		"identifier": identifier,
	})
}

// Identifiers look like "user:<id>" or "ip:<address>"
func identifierParam(c *gin.Context) (string, bool) {
	identifier := c.Param("identifier")
	if !strings.HasPrefix(identifier, "user:") && !strings.HasPrefix(identifier, "ip:") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifier must start with user: or ip:"})
		return "", false
	}
	return identifier, true
}
