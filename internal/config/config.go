package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`

	// Proxies whose X-Forwarded-For is believed. Empty means the socket
	// address identifies the client.
	TrustedProxies []string `json:"trusted_proxies"`
}

type RedisConfig struct {
	URL      string `json:"url"` // empty means in-process store only
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"` // empty disables auth routes and violation logging

	// Violation events older than this are deleted daily, 0 keeps them forever
	ViolationRetentionDays int `json:"violation_retention_days"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	JWTExpiryHours int      `json:"jwt_expiry_hours"`
	AdminEmails    []string `json:"admin_emails"` // get the admin role on register and login
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type RateLimitConfig struct {
	Enabled                bool                             `json:"enabled"`
	SkipSuccessfulRequests bool                             `json:"skip_successful_requests"`
	SkipFailedRequests     bool                             `json:"skip_failed_requests"`
	KeyPrefix              string                           `json:"key_prefix"`
	Strict                 bool                             `json:"strict"`
	Tiers                  map[models.Tier]models.TierLimit `json:"tiers"`
	ExemptPaths            []string                         `json:"exempt_paths"`
	ExemptPatterns         []string                         `json:"exempt_patterns"`
}

// Returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Redis: RedisConfig{
			PoolSize: 20,
		},
		Database: DatabaseConfig{
			ViolationRetentionDays: 30,
		},
		Auth: AuthConfig{
			JWTExpiryHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			KeyPrefix: "rl:",
			Tiers: map[models.Tier]models.TierLimit{
				models.TierGuest:         {WindowMs: 15 * 60 * 1000, MaxRequests: 100},
				models.TierAuthenticated: {WindowMs: 15 * 60 * 1000, MaxRequests: 1000},
				models.TierPremium:       {WindowMs: 15 * 60 * 1000, MaxRequests: 5000},
				models.TierAdmin:         {WindowMs: 15 * 60 * 1000, MaxRequests: 10000},
			},
			ExemptPaths:    []string{"/health", "/metrics"},
			ExemptPatterns: []string{`^/static/`},
		},
	}
}

// Load builds the configuration from defaults, an optional JSON file and the
// environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err == nil {
			if err := json.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	loadFromEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromEnvironment(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Server.Environment = env
	}
	if proxies, ok := os.LookupEnv("TRUSTED_PROXIES"); ok {
		cfg.Server.TrustedProxies = splitList(proxies)
	}

	// Redis
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	setInt(&cfg.Database.ViolationRetentionDays, "VIOLATION_RETENTION_DAYS")

	// Auth
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	setInt(&cfg.Auth.JWTExpiryHours, "JWT_EXPIRY_HOURS")
	if admins := os.Getenv("ADMIN_EMAILS"); admins != "" {
		cfg.Auth.AdminEmails = splitList(admins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Rate limiting
	rl := &cfg.RateLimit
	setBool(&rl.Enabled, "RATE_LIMIT_ENABLED")
	setBool(&rl.SkipSuccessfulRequests, "RATE_LIMIT_SKIP_SUCCESSFUL")
	setBool(&rl.SkipFailedRequests, "RATE_LIMIT_SKIP_FAILED")
	setBool(&rl.Strict, "RATE_LIMIT_STRICT")

	if prefix, ok := os.LookupEnv("RATE_LIMIT_KEY_PREFIX"); ok {
		rl.KeyPrefix = prefix
	}

	if rl.Tiers == nil {
		rl.Tiers = make(map[models.Tier]models.TierLimit)
	}
	for _, tier := range models.Tiers {
		name := strings.ToUpper(string(tier))
		limit := rl.Tiers[tier]

		if v := os.Getenv("RATE_LIMIT_" + name + "_WINDOW_MS"); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				limit.WindowMs = ms
			}
		}
		setInt(&limit.MaxRequests, "RATE_LIMIT_"+name+"_MAX_REQUESTS")

		rl.Tiers[tier] = limit
	}

	if paths := os.Getenv("RATE_LIMIT_EXEMPT_PATHS"); paths != "" {
		rl.ExemptPaths = splitList(paths)
	}
	if patterns := os.Getenv("RATE_LIMIT_EXEMPT_PATTERNS"); patterns != "" {
		rl.ExemptPatterns = splitList(patterns)
	}
}

// Validate checks the final configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}

	for _, tier := range models.Tiers {
		limit, ok := c.RateLimit.Tiers[tier]
		if !ok {
			return fmt.Errorf("missing limits for tier %q", tier)
		}
		if !limit.Valid() {
			return fmt.Errorf("tier %q: windowMs and maxRequests must be positive", tier)
		}
	}

	if c.Database.ViolationRetentionDays < 0 {
		return errors.New("violation retention days must not be negative")
	}

	if c.Database.DSN != "" && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when a database is configured")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
