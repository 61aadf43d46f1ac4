package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coin-mixer/config"
	"coin-mixer/internal/app"
	httpHandler "coin-mixer/internal/adapter/http/handler"
	pgStorage "coin-mixer/internal/adapter/storage/postgres"
	redisStorage "coin-mixer/internal/adapter/storage/redis"
	"coin-mixer/internal/core/ports"
	"coin-mixer/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting coin mixer API")

	ctx := context.Background()

	var (
		journal        ports.TransactionJournal
		idemCache      ports.IdempotencyCache
		rateLimitStore ports.RateLimitStore
		checkers       []ports.HealthChecker
	)

	// PostgreSQL transaction journal (optional)
	if cfg.Database.Enabled {
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		journalRepo := pgStorage.NewJournalRepo(pool)
		if err := journalRepo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare journal schema")
		}
		journal = journalRepo
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
		log.Info().Msg("PostgreSQL journal enabled")
	}

	// Redis rate limiting and idempotency (optional)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		idemCache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
		log.Info().Msg("Redis rate limiting and idempotency enabled")
	}

	mixerSvc, mixerCheckers, err := app.NewMixer(cfg, journal, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mixer")
	}
	checkers = append(checkers, mixerCheckers...)

	mintAmount, err := cfg.Mixer.MintAmountDecimal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mint amount")
	}

	if cfg.Server.Mode == gin.ReleaseMode || cfg.Server.Mode == gin.DebugMode || cfg.Server.Mode == gin.TestMode {
		gin.SetMode(cfg.Server.Mode)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		MixerSvc:         mixerSvc,
		Journal:          journal,
		IdempotencyCache: idemCache,
		RateLimitStore:   rateLimitStore,
		HealthCheckers:   checkers,
		MintAmount:       mintAmount,
		Logger:           log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let deferred fan-out shares land before the ledger goes away.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), cfg.Mixer.SettleTimeout)
	defer settleCancel()
	if err := mixerSvc.Settle(settleCtx); err != nil {
		log.Warn().Err(err).Msg("Exiting with fan-out shares still pending")
	}

	log.Info().Msg("Server exited")
}
