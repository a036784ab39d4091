package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/directory"
	"github.com/matchpoint-server/internal/handler"
	"github.com/matchpoint-server/internal/kafka"
	"github.com/matchpoint-server/internal/postgres"
	"github.com/matchpoint-server/internal/registry"
	"github.com/matchpoint-server/internal/service"
	"github.com/matchpoint-server/internal/websocket"
	"github.com/matchpoint-server/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the room-code registry
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	codeRegistry, err := registry.New(&cfg.Redis, &cfg.Registry, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer codeRegistry.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize the player directory client, sharing the registry's
	// Redis connection for its lookup cache
	dirClient := directory.NewClient(&cfg.Directory, codeRegistry.Client(), logger)

	// Initialize services
	matchService := service.NewMatchService(
		postgresRepo,
		codeRegistry,
		wsHub,
		dirClient,
		&cfg.Match,
		logger,
	)

	// Initialize registry sweeper
	sweeper := worker.NewSweeper(
		codeRegistry,
		postgresRepo,
		&cfg.Sweep,
		logger,
	)

	// Rebuild code bindings from the database on startup (recovery)
	logger.Info("rebuilding room-code registry from database")
	if err := sweeper.RebuildRegistry(ctx); err != nil {
		logger.Warn("failed to rebuild registry on startup", "error", err)
	}

	// Start sweeper
	if cfg.Sweep.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			logger.Error("failed to start registry sweeper", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka publisher for the analytics event stream
	var publisher *kafka.Publisher
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka publisher",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		publisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without Kafka", "error", err)
			publisher = nil
		} else {
			matchService.SetPublisher(publisher)
			logger.Info("Kafka publisher started successfully")
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(matchService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka publisher
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to stop Kafka publisher", "error", err)
		}
	}

	// Stop registry sweeper
	if err := sweeper.Stop(); err != nil {
		logger.Error("failed to stop registry sweeper", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
