package ratelimit

import (
	"github.com/aman-churiwal/ratelimit-service/internal/models"
)

const unknownAddress = "unknown"

// Caller is the authenticated principal behind a request
type Caller struct {
	ID      string
	Role    string
	Premium bool
}

// RequestInfo is what the limiter needs to know about a request
type RequestInfo struct {
	Caller     *Caller // nil for anonymous requests
	RemoteAddr string
	Method     string
	Path       string
}

func ClassifyTier(c *Caller) models.Tier {
	switch {
	case c == nil:
		return models.TierGuest
	case c.Role == models.RoleAdmin:
		return models.TierAdmin
	case c.Premium:
		return models.TierPremium
	default:
		return models.TierAuthenticated
	}
}

// Identifier prefers the user id so a user keeps one quota across networks.
// Requests without any address share the "ip:unknown" bucket.
func Identifier(info RequestInfo) string {
	if info.Caller != nil && info.Caller.ID != "" {
		return "user:" + info.Caller.ID
	}
	if info.RemoteAddr != "" {
		return "ip:" + info.RemoteAddr
	}
	return "ip:" + unknownAddress
}
