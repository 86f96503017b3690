package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/config"
	"github.com/aman-churiwal/ratelimit-service/internal/logger"
	"github.com/aman-churiwal/ratelimit-service/internal/server"
	"github.com/aman-churiwal/ratelimit-service/internal/storage"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.Init(cfg.Server.Environment, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	var redis *storage.RedisClient
	if cfg.Redis.URL != "" {
		redis, err = storage.NewRedis(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		if err != nil {
			zl.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()

		zl.Info("Connected to Redis")
	} else {
		zl.Warn("REDIS_URL not set, rate limit windows are kept in process memory")
	}

	var postgres *storage.Postgres
	if cfg.Database.DSN != "" {
		logLevel := gormlogger.Warn
		if cfg.IsProduction() {
			logLevel = gormlogger.Error
		}

		postgres, err = storage.NewPostgres(cfg.Database.DSN, logLevel)
		if err != nil {
			zl.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer postgres.Close()

		if err := postgres.AutoMigrate(); err != nil {
			zl.Fatal("Failed to migrate database", zap.Error(err))
		}

		zl.Info("Connected to database")
	}

	srv, err := server.New(cfg, redis, postgres)
	if err != nil {
		zl.Fatal("Failed to create server", zap.Error(err))
	}

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil {
			zl.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}

	zl.Info("Server exited")
}
