package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/circuitbreaker"
	"github.com/aman-churiwal/ratelimit-service/internal/config"
	"github.com/aman-churiwal/ratelimit-service/internal/handler"
	"github.com/aman-churiwal/ratelimit-service/internal/healthcheck"
	"github.com/aman-churiwal/ratelimit-service/internal/logger"
	"github.com/aman-churiwal/ratelimit-service/internal/middleware"
	"github.com/aman-churiwal/ratelimit-service/internal/ratelimit"
	"github.com/aman-churiwal/ratelimit-service/internal/repository"
	"github.com/aman-churiwal/ratelimit-service/internal/service"
	"github.com/aman-churiwal/ratelimit-service/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const violationBufferSize = 1000

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient // nil when running on the in-process store
	postgres   *storage.Postgres    // nil disables auth routes and violation logging
	log        *zap.Logger
	httpServer *http.Server

	limiter    *ratelimit.Limiter
	localStore *ratelimit.MemoryStore
	fallback   *ratelimit.FallbackStore
	health     *healthcheck.Checker

	authService *service.AuthService
	violations  *service.ViolationService
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	exempt, err := middleware.NewExemptions(cfg.RateLimit.ExemptPaths, cfg.RateLimit.ExemptPatterns)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		redis:    redis,
		postgres: postgres,
		log:      logger.Named("server"),
	}

	// guests are keyed by ClientIP, which only reads forwarding headers from these
	if err := s.router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if err := s.initLimiter(); err != nil {
		return nil, err
	}
	s.initServices()
	s.initHealthChecks()

	s.setupMiddleware(exempt)
	s.setupRoutes()

	return s, nil
}

func (s *Server) initLimiter() error {
	rl := s.config.RateLimit

	cell, err := ratelimit.NewConfigCell(ratelimit.Settings{
		Enabled:                rl.Enabled,
		SkipSuccessfulRequests: rl.SkipSuccessfulRequests,
		SkipFailedRequests:     rl.SkipFailedRequests,
		KeyPrefix:              rl.KeyPrefix,
		Strict:                 rl.Strict,
		Tiers:                  rl.Tiers,
	})
	if err != nil {
		return fmt.Errorf("failed to build rate limit settings: %w", err)
	}

	s.localStore = ratelimit.NewMemoryStore()

	var store ratelimit.Store = s.localStore
	if s.redis != nil {
		storeLog := logger.Named("store")
		breaker := circuitbreaker.New(circuitbreaker.Config{
			MaxFailures:     5,
			Timeout:         30 * time.Second,
			HalfOpenSuccess: 1,
			OnStateChange: func(from, to circuitbreaker.State) {
				storeLog.Warn("Redis circuit breaker changed state",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})

		s.fallback = ratelimit.NewFallbackStore(ratelimit.NewRedisStore(s.redis), s.localStore, breaker)
		store = s.fallback
	}

	s.limiter = ratelimit.New(cell, store, ratelimit.WithLogger(logger.Named("ratelimit")))

	s.log.Info("Rate limiter ready",
		zap.Bool("enabled", rl.Enabled),
		zap.Bool("redis", s.redis != nil),
		zap.Bool("strict", rl.Strict),
	)
	return nil
}

func (s *Server) initServices() {
	if s.config.Auth.JWTSecret != "" {
		var users service.UserStore
		if s.postgres != nil {
			users = repository.NewUserRepository(s.postgres)
		}
		s.authService = service.NewAuthService(users, s.config.Auth.JWTSecret, s.config.Auth.JWTExpiryHours).
			WithAdminEmails(s.config.Auth.AdminEmails...)
	}

	if s.postgres != nil {
		s.violations = service.NewViolationService(
			repository.NewViolationRepository(s.postgres),
			violationBufferSize,
			service.WithRetention(s.config.Database.ViolationRetentionDays, 0),
		)
		s.violations.Start()
	}
}

func (s *Server) initHealthChecks() {
	probes := make(map[string]healthcheck.Probe)
	if s.redis != nil {
		probes["redis"] = s.redis.Ping
	}
	if s.postgres != nil {
		probes["postgres"] = s.postgres.Ping
	}

	s.health = healthcheck.NewChecker(&healthcheck.Config{
		Probes: probes,
		Logger: logger.Named("health"),
	})
	s.health.Start()
}

func (s *Server) setupMiddleware(exempt *middleware.Exemptions) {
	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(logger.Named("http")))

	// interface values stay nil when the feature is off
	var resolver middleware.CallerResolver
	if s.authService != nil {
		resolver = s.authService
	}
	var recorder middleware.ViolationRecorder
	if s.violations != nil {
		recorder = s.violations
	}

	s.router.Use(middleware.Authenticate(resolver))
	s.router.Use(middleware.RateLimit(s.limiter, exempt, recorder, logger.Named("ratelimit")))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimitHandler := handler.NewRateLimitHandler(s.limiter)

	var breaker handler.Breaker
	if s.fallback != nil {
		breaker = s.fallback
	}
	systemHandler := handler.NewSystemHandler(breaker)

	api := s.router.Group("/api")
	api.GET("/rate-limit/status", rateLimitHandler.Status)

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/rate-limit/config", rateLimitHandler.GetConfig)
		admin.PUT("/rate-limit/config", rateLimitHandler.UpdateConfig)
		admin.GET("/rate-limit/stats/:identifier", rateLimitHandler.GetStats)
		admin.DELETE("/rate-limit/stats/:identifier", rateLimitHandler.ClearStats)
		admin.GET("/rate-limit/store", systemHandler.StoreStatus)
		admin.POST("/rate-limit/store/reset", systemHandler.ResetStoreBreaker)
	}

	if s.postgres == nil {
		s.log.Info("No database configured, auth and violation routes disabled")
		return
	}

	authHandler := handler.NewAuthHandler(s.authService)
	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.RequireAuth(), authHandler.Me)
	}
	admin.PUT("/users/:id/premium", authHandler.SetPremium)

	violationsHandler := handler.NewViolationsHandler(s.violations)
	admin.GET("/rate-limit/violations", violationsHandler.GetSummary)
	admin.GET("/rate-limit/violations/events", violationsHandler.GetEvents)
}

func (s *Server) healthCheck(c *gin.Context) {
	overall := s.overallHealth()

	checks := gin.H{
		"dependencies": s.health.GetAllStatus(),
	}
	if s.fallback != nil {
		checks["store_breaker"] = s.fallback.BreakerMetrics().State
	}

	// degraded instances still answer every check
	statusCode := http.StatusOK
	if overall == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall,
		"service":   "ratelimit-service",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).Seconds(),
		"checks":    checks,
	})
}

// overallHealth is the probe verdict, except that a Redis outage only
// degrades the service while the local store stands in for it.
func (s *Server) overallHealth() healthcheck.HealthStatus {
	overall := s.health.OverallHealth()
	if s.fallback == nil {
		return overall
	}

	for _, status := range s.health.GetAllStatus() {
		if !status.IsHealthy && status.Name != "redis" {
			return overall
		}
	}

	if overall != healthcheck.Healthy || s.fallback.Degraded() {
		return healthcheck.Degraded
	}
	return healthcheck.Healthy
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting rate limit service",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then flushes queued violations and
// stops background work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	if s.violations != nil {
		if verr := s.violations.Close(ctx); verr != nil {
			s.log.Error("Failed to flush violations", zap.Error(verr))
		}
	}

	s.health.Stop()
	s.localStore.Close()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

var startTime = time.Now()
