package models

// Tier is the quota bucket a caller falls into
type Tier string

const (
	TierGuest         Tier = "guest"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAdmin         Tier = "admin"
)

// Tiers lists every tier in ascending order of privilege
var Tiers = []Tier{TierGuest, TierAuthenticated, TierPremium, TierAdmin}

func (t Tier) Valid() bool {
	switch t {
	case TierGuest, TierAuthenticated, TierPremium, TierAdmin:
		return true
	default:
		return false
	}
}

// Quota of a single tier
type TierLimit struct {
	WindowMs    int64 `json:"windowMs"`
	MaxRequests int   `json:"maxRequests"`
}

func (l TierLimit) Valid() bool {
	return l.WindowMs > 0 && l.MaxRequests > 0
}
