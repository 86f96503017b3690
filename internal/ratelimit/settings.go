package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
)

var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Settings is the live limiter configuration
type Settings struct {
	Enabled                bool                             `json:"enabled"`
	SkipSuccessfulRequests bool                             `json:"skipSuccessfulRequests"`
	SkipFailedRequests     bool                             `json:"skipFailedRequests"`
	KeyPrefix              string                           `json:"keyPrefix"`
	Strict                 bool                             `json:"strict"`
	Tiers                  map[models.Tier]models.TierLimit `json:"tiers"`
}

// Limit returns the quota of tier. Unknown tiers get the guest quota.
func (s Settings) Limit(tier models.Tier) models.TierLimit {
	if l, ok := s.Tiers[tier]; ok {
		return l
	}
	return s.Tiers[models.TierGuest]
}

func (s Settings) clone() Settings {
	tiers := make(map[models.Tier]models.TierLimit, len(s.Tiers))
	for k, v := range s.Tiers {
		tiers[k] = v
	}
	s.Tiers = tiers
	return s
}

func (s Settings) validate() error {
	for _, tier := range models.Tiers {
		l, ok := s.Tiers[tier]
		if !ok {
			return fmt.Errorf("%w: missing tier %q", ErrInvalidConfig, tier)
		}
		if !l.Valid() {
			return fmt.Errorf("%w: tier %q needs positive windowMs and maxRequests", ErrInvalidConfig, tier)
		}
	}
	return nil
}

type TierLimitPatch struct {
	WindowMs    *int64 `json:"windowMs"`
	MaxRequests *int   `json:"maxRequests"`
}

// SettingsPatch is a partial update. Nil fields are left alone and tiers
// outside the known set are ignored.
type SettingsPatch struct {
	Enabled                *bool                          `json:"enabled"`
	SkipSuccessfulRequests *bool                          `json:"skipSuccessfulRequests"`
	SkipFailedRequests     *bool                          `json:"skipFailedRequests"`
	Tiers                  map[models.Tier]TierLimitPatch `json:"tiers"`
}

// ConfigCell holds Settings for lock-free reads. Writers copy, modify and swap.
type ConfigCell struct {
	mu      sync.Mutex
	current atomic.Pointer[Settings]
}

func NewConfigCell(initial Settings) (*ConfigCell, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}

	c := &ConfigCell{}
	s := initial.clone()
	c.current.Store(&s)
	return c, nil
}

// Load returns the current settings. The returned value must be treated as read-only.
func (c *ConfigCell) Load() Settings {
	return *c.current.Load()
}

// Apply merges p into the current settings. Nothing changes if the result is invalid.
func (c *ConfigCell) Apply(p SettingsPatch) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.current.Load().clone()

	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.SkipSuccessfulRequests != nil {
		next.SkipSuccessfulRequests = *p.SkipSuccessfulRequests
	}
	if p.SkipFailedRequests != nil {
		next.SkipFailedRequests = *p.SkipFailedRequests
	}

	for tier, patch := range p.Tiers {
		if !tier.Valid() {
			continue
		}

		l := next.Tiers[tier]
		if patch.WindowMs != nil {
			l.WindowMs = *patch.WindowMs
		}
		if patch.MaxRequests != nil {
			l.MaxRequests = *patch.MaxRequests
		}
		next.Tiers[tier] = l
	}

	if err := next.validate(); err != nil {
		return c.Load(), err
	}

	c.current.Store(&next)
	return next, nil
}
