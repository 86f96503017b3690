package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// CallerResolver turns a bearer token into a caller
type CallerResolver interface {
	Caller(token string) (*ratelimit.Caller, error)
}

// Authenticate attaches the caller of a valid bearer token to the context.
// Requests without a token, or with one that does not validate, continue as
// guests; routes that need a user check with RequireAuth.
func Authenticate(resolver CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || resolver == nil {
			c.Next()
			return
		}

		caller, err := resolver.Caller(token)
		if err == nil {
			c.Set(callerKey, caller)
			c.Set("user_id", caller.ID)
			c.Set("role", caller.Role)
		}

		c.Next()
	}
}

// Rejects requests that Authenticate did not resolve to a user
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Valid bearer token required",
			})
			return
		}
		c.Next()
	}
}

// Allows only callers with the admin role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if caller == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Valid bearer token required",
			})
			return
		}
		if caller.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			return
		}
		c.Next()
	}
}

// Returns the authenticated caller, or nil for guests
func CallerFrom(c *gin.Context) *ratelimit.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*ratelimit.Caller)
	return caller
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
