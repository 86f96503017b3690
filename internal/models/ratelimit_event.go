package models

import (
	"time"
)

// Represents a request that was rejected by the rate limiter
type RateLimitEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Identifier string    `gorm:"index;not null" json:"identifier"`
	Tier       Tier      `gorm:"index;not null" json:"tier"`
	Method     string    `json:"method"`
	Path       string    `gorm:"index" json:"path"`
	Limit      int       `json:"limit"`
	RetryAfter int       `json:"retry_after"`
	UserAgent  string    `json:"user_agent"`
}

func (RateLimitEvent) TableName() string {
	return "rate_limit_events"
}
