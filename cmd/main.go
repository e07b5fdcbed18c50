package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hai2k2yt/flowsync/internal/api"
	"github.com/hai2k2yt/flowsync/internal/auth"
	"github.com/hai2k2yt/flowsync/internal/cache"
	"github.com/hai2k2yt/flowsync/internal/config"
	"github.com/hai2k2yt/flowsync/internal/db"
	"github.com/hai2k2yt/flowsync/internal/observability"
	"github.com/hai2k2yt/flowsync/internal/persistence"
	"github.com/hai2k2yt/flowsync/internal/rooms"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize OpenTelemetry
	otelCleanup, err := observability.InitOpenTelemetry("flowsync-backend", "1.0.0")
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// Initialize structured logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize database: %v", err)
	}

	// Initialize cache (Redis)
	redisCache, err := cache.New(cfg.RedisURL, cfg.RoomCacheTTL, cfg.CursorTTL)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize cache: %v", err)
	}

	// Token verification and role resolution
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal(context.Background(), "Failed to initialize JWT manager: %v", err)
	}
	oracle := auth.NewOracle(jwtMgr, database)

	// Snapshot writer shared by all room controllers
	writer := persistence.NewFlowWriter(database, redisCache, logger,
		cfg.SyncRetryInitial, cfg.SyncRetryMax, cfg.SyncRetryJitter)

	// Room registry
	manager := rooms.NewManager(rooms.Config{
		BroadcastDebounce:    cfg.BroadcastDebounce,
		SyncDebounce:         cfg.SyncDebounce,
		FinalizationDeadline: cfg.FinalizationDeadline,
	}, logger, database, redisCache, writer)

	// Setup HTTP router
	router := api.NewRouter(database, redisCache, manager, oracle, cfg, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info(context.Background(), "Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(context.Background(), "Server error: %v", err)
		}
	}()

	// Graceful shutdown setup
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received
	<-sigChan

	gracefulShutdown(context.Background(), cfg, logger, server, manager, database, redisCache, otelCleanup)

	logger.Info(context.Background(), "Application stopped.")
}

// gracefulShutdown handles the graceful shutdown of all components. Rooms are
// drained before the stores close underneath them.
func gracefulShutdown(ctx context.Context, cfg *config.Config, logger *utils.Logger, server *http.Server, manager *rooms.Manager, database *db.Database, redisCache *cache.Cache, otelCleanup func(context.Context) error) {
	logger.Info(ctx, "Shutting down server...")

	// Room finalization can legitimately take the full deadline per room.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.FinalizationDeadline+15*time.Second)
	defer cancel()

	// 1. Shut down HTTP server (stops new upgrades; live sockets are hijacked
	// and belong to their sessions)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error: %v", err)
	} else {
		logger.Info(ctx, "HTTP server stopped.")
	}

	// 2. Drain and finalize all rooms, closing their sessions
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Room manager shutdown error: %v", err)
	} else {
		logger.Info(ctx, "Room manager stopped.")
	}

	// 3. Close Database connection
	if err := database.Close(); err != nil {
		logger.Error(ctx, "Database close error: %v", err)
	} else {
		logger.Info(ctx, "Database connection closed.")
	}

	// 4. Close Redis cache connection
	if err := redisCache.Close(); err != nil {
		logger.Error(ctx, "Redis cache close error: %v", err)
	} else {
		logger.Info(ctx, "Redis cache connection closed.")
	}

	// 5. Shutdown OpenTelemetry
	if otelCleanup != nil {
		if err := otelCleanup(shutdownCtx); err != nil {
			logger.Error(ctx, "OpenTelemetry shutdown error: %v", err)
		} else {
			logger.Info(ctx, "OpenTelemetry shut down.")
		}
	}

	logger.Info(ctx, "Graceful shutdown complete.")
}
