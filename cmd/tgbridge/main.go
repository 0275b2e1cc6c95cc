// Package main is the entry point for the Telegram admin bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/communityhub/telegram-bridge/internal/api"
	"github.com/communityhub/telegram-bridge/internal/composer"
	"github.com/communityhub/telegram-bridge/internal/config"
	"github.com/communityhub/telegram-bridge/internal/health"
	"github.com/communityhub/telegram-bridge/internal/realtime"
	"github.com/communityhub/telegram-bridge/internal/store"
	"github.com/communityhub/telegram-bridge/internal/timeline"
	"github.com/communityhub/telegram-bridge/internal/transport"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	identity   = flag.String("identity", "Admin", "Display name used for optimistic outbound inserts")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from flag if provided
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("Telegram bridge starting",
		"config", *configPath,
		"log_level", cfg.LogLevel,
	)

	// Ensure data directory exists for the local timeline cache
	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0700); err != nil {
		logger.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Initialize local cache
	cacheDB, err := store.NewSQLiteStore(cfg.CachePath)
	if err != nil {
		logger.Error("Failed to initialize timeline cache", "error", err)
		os.Exit(1)
	}
	defer cacheDB.Close()

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Health monitor collects counters from every component
	monitor := health.NewMonitor(logger)

	// Remote messaging function and event log clients
	client := transport.NewClient(cfg.FunctionURL, cfg.FunctionKey, cfg.RequestTimeout, cfg.FileChunkBytes, logger)
	events := transport.NewEventLogClient(cfg.EventLogURL, cfg.FunctionKey, cfg.RequestTimeout, logger)

	// Timeline reconciler
	reconciler := timeline.NewReconciler(client, events, cacheDB, monitor, logger, timeline.Options{
		FetchLimit:         cfg.FetchLimit,
		DebounceWindow:     cfg.DebounceWindow,
		EnrichPollInterval: cfg.EnrichPollInterval,
		EnrichPollBudget:   cfg.EnrichPollBudget,
	})
	defer reconciler.Close()

	// Outbound composer
	comp := composer.New(client, reconciler, composer.Limits{
		PhotoMaxBytes:    cfg.PhotoMaxBytes,
		DocumentMaxBytes: cfg.DocumentMaxBytes,
		VideoMaxBytes:    cfg.VideoMaxBytes,
	}, *identity, logger)
	comp.SetMetrics(monitor)

	// Realtime push subscription
	var subscriber *realtime.Subscriber
	if cfg.RealtimeURL != "" {
		subscriber = realtime.NewSubscriber(realtime.Config{
			URL:           cfg.RealtimeURL,
			APIKey:        cfg.FunctionKey,
			ReconnectBase: cfg.ReconnectBaseDelay,
			ReconnectMax:  cfg.ReconnectMaxDelay,
		}, reconciler, monitor, logger)
		subscriber.Start(ctx)
		defer subscriber.Stop()
		monitor.SetProbes(subscriber, reconciler)
	} else {
		monitor.SetProbes(nil, reconciler)
	}

	// Console API and status endpoints share one listener
	var statusServer *http.Server
	if cfg.StatusEnabled {
		apiServer := api.NewServer(reconciler, comp, client, logger)

		root := chi.NewRouter()
		root.Mount("/", monitor.Routes())
		root.Mount("/api", apiServer.Routes())

		statusServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
			Handler: root,
		}
		go func() {
			logger.Info("console endpoint listening", "port", cfg.StatusPort)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("console server error", "error", err)
			}
		}()
	}

	logger.Info("bridge ready")

	<-sigChan
	logger.Info("shutting down")

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", "error", err)
		}
	}
}
