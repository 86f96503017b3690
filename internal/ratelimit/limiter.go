// Package ratelimit decides whether a request fits its caller's quota.
//
// Each identifier owns a WindowRecord: the timestamps of its requests inside
// the current window and the time the window expires. A check loads the record,
// drops timestamps older than the tier's window, appends the current request
// and writes the record back with a TTL equal to the time left in the window.
//
// Within one process, checks on the same key are serialised. Across processes
// sharing a RedisStore the read and the write are separate round trips, so a
// burst spread over several instances may overshoot the quota slightly. Setting
// Strict replaces the read/write pair with the store's atomic Update.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"go.uber.org/zap"
)

// Decision is the outcome of one check. Quota fields are filled whether or
// not the request is allowed.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Limit      int         `json:"limit"`
	Remaining  int         `json:"remaining"`
	ResetTime  time.Time   `json:"resetTime"`
	RetryAfter int         `json:"retryAfter"`
	Tier       models.Tier `json:"tier"`
	Identifier string      `json:"identifier,omitempty"`
	Degraded   bool        `json:"degraded,omitempty"`

	key string
	at  int64
}

// Active reports whether the decision came from an enabled limiter
func (d Decision) Active() bool {
	return d.Tier != ""
}

type Limiter struct {
	config *ConfigCell
	store  Store
	now    func() time.Time
	locks  keyLocks
	log    *zap.Logger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(config *ConfigCell, store Store, opts ...Option) *Limiter {
	l := &Limiter{
		config: config,
		store:  store,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckRateLimit records the request and decides whether it is allowed.
// It never fails: store errors are logged and the request is let through.
func (l *Limiter) CheckRateLimit(ctx context.Context, info RequestInfo) Decision {
	cfg := l.config.Load()
	if !cfg.Enabled {
		return Decision{Allowed: true}
	}

	tier := ClassifyTier(info.Caller)
	limit := cfg.Limit(tier)
	identifier := Identifier(info)
	key := cfg.KeyPrefix + identifier

	now := l.now().UnixMilli()

	rec, err := l.mutate(ctx, cfg, key, func(current *WindowRecord) (*WindowRecord, time.Duration) {
		next := advanceWindow(current, now, limit.WindowMs)
		return next, ttlUntil(next.ResetTime, now)
	})
	if err != nil {
		storeErrorsTotal.WithLabelValues("check").Inc()
		decisionsTotal.WithLabelValues(string(tier), outcomeFailOpen).Inc()
		l.log.Warn("Rate limit store failed, allowing request",
			zap.String("identifier", identifier),
			zap.String("tier", string(tier)),
			zap.String("path", info.Path),
			zap.Error(err),
		)

		return Decision{
			Allowed:    true,
			Limit:      limit.MaxRequests,
			Remaining:  limit.MaxRequests,
			ResetTime:  time.UnixMilli(now + limit.WindowMs),
			Tier:       tier,
			Identifier: identifier,
			Degraded:   true,
		}
	}

	d := Decision{
		Allowed:    rec.Count <= limit.MaxRequests,
		Limit:      limit.MaxRequests,
		Remaining:  max(0, limit.MaxRequests-rec.Count),
		ResetTime:  time.UnixMilli(rec.ResetTime),
		Tier:       tier,
		Identifier: identifier,
		key:        key,
		at:         now,
	}

	if d.Allowed {
		decisionsTotal.WithLabelValues(string(tier), outcomeAllowed).Inc()
	} else {
		d.RetryAfter = ceilSeconds(rec.ResetTime - now)
		decisionsTotal.WithLabelValues(string(tier), outcomeDenied).Inc()
		l.log.Debug("Rate limit exceeded",
			zap.String("identifier", identifier),
			zap.String("tier", string(tier)),
			zap.String("path", info.Path),
			zap.Int("count", rec.Count),
			zap.Int("retry_after", d.RetryAfter),
		)
	}

	return d
}

// Rollback removes the request recorded by d from its window. The middleware
// uses it for requests that the skip flags exclude from counting.
func (l *Limiter) Rollback(ctx context.Context, d Decision) error {
	if d.key == "" {
		return nil
	}

	cfg := l.config.Load()
	now := l.now().UnixMilli()

	_, err := l.mutate(ctx, cfg, d.key, func(current *WindowRecord) (*WindowRecord, time.Duration) {
		if current == nil {
			return nil, 0
		}

		for i := len(current.Requests) - 1; i >= 0; i-- {
			if current.Requests[i] == d.at {
				current.Requests = append(current.Requests[:i], current.Requests[i+1:]...)
				current.Count = len(current.Requests)
				return current, ttlUntil(current.ResetTime, now)
			}
		}
		return nil, 0
	})
	if err != nil {
		storeErrorsTotal.WithLabelValues("rollback").Inc()
		return err
	}
	return nil
}

// GetStats returns the stored window of identifier, or nil. It does not touch the TTL.
func (l *Limiter) GetStats(ctx context.Context, identifier string) (*WindowRecord, error) {
	rec, err := l.store.Get(ctx, l.config.Load().KeyPrefix+identifier)
	if err != nil {
		storeErrorsTotal.WithLabelValues("stats").Inc()
		return nil, err
	}
	return rec, nil
}

// Clear forgets the window of identifier. Clearing a missing window succeeds;
// false means the backend failed.
func (l *Limiter) Clear(ctx context.Context, identifier string) bool {
	key := l.config.Load().KeyPrefix + identifier

	unlock := l.locks.lock(key)
	defer unlock()

	if err := l.store.Delete(ctx, key); err != nil {
		storeErrorsTotal.WithLabelValues("clear").Inc()
		l.log.Error("Failed to clear rate limit window",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return false
	}
	return true
}

// UpdateConfig merges p into the live settings. Stored windows are untouched;
// new limits apply from the next check.
func (l *Limiter) UpdateConfig(p SettingsPatch) (Settings, error) {
	s, err := l.config.Apply(p)
	if err != nil {
		return s, err
	}

	l.log.Info("Rate limit configuration updated",
		zap.Bool("enabled", s.Enabled),
		zap.Any("tiers", s.Tiers),
	)
	return s, nil
}

func (l *Limiter) Config() Settings {
	return l.config.Load()
}

// mutate runs fn against the record at key, using the store's atomic update
// in strict mode and a get/set pair otherwise. Both halves of the pair go to
// the backend pinned at the start.
func (l *Limiter) mutate(ctx context.Context, cfg Settings, key string, fn UpdateFunc) (*WindowRecord, error) {
	unlock := l.locks.lock(key)
	defer unlock()

	store := l.store
	if p, ok := store.(Pinner); ok {
		store = p.Pin()
	}

	if up, ok := store.(Updater); ok && cfg.Strict {
		return up.Update(ctx, key, fn)
	}

	current, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	next, ttl := fn(current)
	if next == nil {
		return current, nil
	}

	if err := store.Set(ctx, key, next, ttl); err != nil {
		return nil, err
	}
	return next, nil
}

// advanceWindow appends now to the window, starting a new one when there is
// no record or its reset time has been reached.
func advanceWindow(current *WindowRecord, now, windowMs int64) *WindowRecord {
	if current == nil || now >= current.ResetTime {
		return &WindowRecord{
			Requests:  []int64{now},
			Count:     1,
			ResetTime: now + windowMs,
		}
	}

	cutoff := now - windowMs
	requests := make([]int64, 0, len(current.Requests)+1)
	for _, ts := range current.Requests {
		if ts > cutoff {
			requests = append(requests, ts)
		}
	}
	requests = append(requests, now)

	return &WindowRecord{
		Requests:  requests,
		Count:     len(requests),
		ResetTime: current.ResetTime,
	}
}

func ttlUntil(resetTime, now int64) time.Duration {
	return time.Duration(max(1, ceilSeconds(resetTime-now))) * time.Second
}

func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000))
}
