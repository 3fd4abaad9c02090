package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/mapsync"
	"github.com/rpattn/mapsync/internal/auth"
	"github.com/rpattn/mapsync/internal/config"
	"github.com/rpattn/mapsync/internal/db"
	"github.com/rpattn/mapsync/internal/history"
	"github.com/rpattn/mapsync/internal/lock"
	"github.com/rpattn/mapsync/internal/permission"
	"github.com/rpattn/mapsync/internal/repository"
	"github.com/rpattn/mapsync/internal/server"
	"github.com/rpattn/mapsync/internal/syncer"
	"github.com/rpattn/mapsync/internal/ws"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(mapsync.Migrations, "migrations", cfg.Database, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Create repositories
	mapRepo := repository.NewMapRepository(conn)
	nodeRepo := repository.NewNodeRepository(conn)
	historyRepo := repository.NewHistoryRepository(conn)

	// Create services
	locks := lock.NewManager(cfg.LockTTL)
	resolver := syncer.NewResolver(mapRepo, nodeRepo, locks)
	rollback := history.NewService(nodeRepo, historyRepo, logger)
	perms := permission.NewService(conn.Pool)
	tokens := auth.NewJWTResolver(cfg.JWTSecret)

	// Create websocket hub and handler
	hub := ws.NewHub(logger)
	wsHandler := ws.NewHandler(hub, mapRepo, nodeRepo, locks, perms, tokens, logger)

	router := server.NewRouter(server.RouterDeps{
		Maps:    server.NewMapsHandler(mapRepo, resolver, perms, logger),
		History: server.NewHistoryHandler(historyRepo, rollback, perms, logger),
		WS:      wsHandler,
		Tokens:  tokens,
		Origins: cfg.AllowedOrigins,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
