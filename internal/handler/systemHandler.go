package handler

import (
	"net/http"

	"github.com/aman-churiwal/ratelimit-service/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
)

// Breaker is the store circuit breaker as seen by operators
type Breaker interface {
	BreakerMetrics() circuitbreaker.Metrics
	ResetBreaker()
}

// Handles store-related endpoints
type SystemHandler struct {
	breaker Breaker
}

func NewSystemHandler(breaker Breaker) *SystemHandler {
	return &SystemHandler{breaker: breaker}
}

// Returns the state of the store circuit breaker
func (h *SystemHandler) StoreStatus(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusOK, gin.H{"backend": "memory"})
		return
	}

	metrics := h.breaker.BreakerMetrics()
	c.JSON(http.StatusOK, gin.H{
		"backend":           "redis",
		"state":             metrics.State.String(),
		"failure_count":     metrics.FailureCount,
		"success_count":     metrics.SuccessCount,
		"last_failure_time": metrics.LastFailureTime,
		"last_state_change": metrics.LastStateChange,
	})
}

// Manually closes the store circuit breaker
func (h *SystemHandler) ResetStoreBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No circuit breaker configured"})
		return
	}

	h.breaker.ResetBreaker()
	c.JSON(http.StatusOK, gin.H{"message": "Circuit breaker reset successfully"})
}
