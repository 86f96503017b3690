package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const decisionKey = "rate_limit_decision"

// ViolationRecorder receives every rejected request
type ViolationRecorder interface {
	Record(event models.RateLimitEvent) bool
}

// Exemptions lists requests that bypass the limiter
type Exemptions struct {
	paths    map[string]struct{}
	patterns []*regexp.Regexp
}

func NewExemptions(paths, patterns []string) (*Exemptions, error) {
	e := &Exemptions{paths: make(map[string]struct{}, len(paths))}

	for _, p := range paths {
		e.paths[p] = struct{}{}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}

	return e, nil
}

func (e *Exemptions) Match(path string) bool {
	if e == nil {
		return false
	}
	if _, ok := e.paths[path]; ok {
		return true
	}
	for _, re := range e.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// RateLimit checks every non-exempt request against the caller's tier quota.
// It runs after Authenticate so the caller is known.
func RateLimit(limiter *ratelimit.Limiter, exempt *Exemptions, recorder ViolationRecorder, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if exempt.Match(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		d := limiter.CheckRateLimit(ctx, ratelimit.RequestInfo{
			Caller:     CallerFrom(c),
			RemoteAddr: c.ClientIP(),
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
		})
		c.Set(decisionKey, d)

		if d.Active() {
			setRateLimitHeaders(c, d)
		}

		if !d.Allowed {
			if recorder != nil {
				recorder.Record(models.RateLimitEvent{
					Timestamp:  time.Now().UTC(),
					Identifier: d.Identifier,
					Tier:       d.Tier,
					Method:     c.Request.Method,
					Path:       c.Request.URL.Path,
					Limit:      d.Limit,
					RetryAfter: d.RetryAfter,
					UserAgent:  c.Request.UserAgent(),
				})
			}

			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too Many Requests",
				"message":    fmt.Sprintf("Rate limit exceeded for tier %s. Try again in %d seconds.", d.Tier, d.RetryAfter),
				"retryAfter": d.RetryAfter,
				"limit":      d.Limit,
				"remaining":  d.Remaining,
				"resetTime":  d.ResetTime.UTC().Format(time.RFC3339),
			})
			return
		}

		c.Next()

		if !d.Active() {
			return
		}

		cfg := limiter.Config()
		status := c.Writer.Status()
		skip := (cfg.SkipSuccessfulRequests && status < http.StatusBadRequest) ||
			(cfg.SkipFailedRequests && status >= http.StatusBadRequest)
		if !skip {
			return
		}

		if err := limiter.Rollback(ctx, d); err != nil {
			log.Warn("Failed to uncount skipped request",
				zap.String("identifier", d.Identifier),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
	}
}

// Returns the decision made for this request, if the limiter ran
func DecisionFrom(c *gin.Context) (ratelimit.Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return ratelimit.Decision{}, false
	}
	d, ok := v.(ratelimit.Decision)
	return d, ok
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", d.ResetTime.UTC().Format(time.RFC3339))
	c.Header("X-RateLimit-Tier", string(d.Tier))
}
