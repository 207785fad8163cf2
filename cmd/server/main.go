package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/api"
	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/config"
	"github.com/eldtechnologies/batepapo/internal/presence"
	"github.com/eldtechnologies/batepapo/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	ds, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store initialization failed")
	}
	defer ds.Close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	// Rate limiting shares the store's Redis connection when there is one
	var limiterClient *redis.Client
	if rs, ok := ds.(*store.RedisStore); ok {
		limiterClient = rs.Client()
	} else if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		limiterClient = redis.NewClient(opts)
		if err := limiterClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer limiterClient.Close()
		logger.Info().Msg("connected to Redis for rate limiting")
	} else {
		logger.Warn().Msg("REDIS_URL not set, rate limiting disabled")
	}

	svc := chat.NewService(ds, ds, logger)

	sweeper := presence.NewSweeper(ds, ds, logger, cfg.ParticipantTTL, cfg.SweepPeriod)
	sweeper.Start(ctx)

	router := api.NewRouter(logger, svc, ds, api.Options{
		RateLimitClient: limiterClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		TrustedProxies: cfg.TrustedProxies,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("ttl", cfg.ParticipantTTL).
			Dur("sweep_period", cfg.SweepPeriod).
			Msg("starting batepapo server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	sweeper.Stop()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return store.NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("migrations completed")
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	case config.DriverRedis:
		return store.NewRedisStore(ctx, cfg.RedisURL)
	case config.DriverMongo:
		return store.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
	default:
		return store.NewMemoryStore(), nil
	}
}
