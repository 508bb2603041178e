package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lysyi3m/rss-harvest/app/api"
	"github.com/lysyi3m/rss-harvest/app/cfg"
	"github.com/lysyi3m/rss-harvest/app/database"
	"github.com/lysyi3m/rss-harvest/app/feed"
	"github.com/lysyi3m/rss-harvest/app/results"
	"github.com/lysyi3m/rss-harvest/app/tasks"
)

func main() {
	config, err := cfg.Load()
	if errors.Is(err, cfg.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting RSS Harvest", "version", config.Version, "timezone", config.Timezone)

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", config.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", config.DBPath, "migration_version", version, "dirty", dirty)

	configCache := feed.NewConfigCache(config.TasksDir)
	if err := configCache.Run(); err != nil {
		slog.Error("Failed to load task files", "dir", config.TasksDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Task files loaded", "dir", config.TasksDir, "count", configCache.GetConfigCount())

	overlapPolicy, err := tasks.ParseOverlapPolicy(config.OverlapPolicy)
	if err != nil {
		slog.Error("Invalid overlap policy", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := tasks.NewMetrics(registry)

	entryRepo := database.NewEntryRepository(db)
	sink := results.NewSink()
	clock := tasks.RealClock{}

	fetcher := tasks.NewHTTPFetcher(&http.Client{}, config.UserAgent, tasks.NewHostRateLimiter(config.HostInterval))
	executor := tasks.NewExecutor(fetcher, feed.NewParser(), feed.NewContentExtractor(), sink, clock, config.FetchTimeout, metrics)
	scheduler := tasks.NewScheduler(executor, clock, tasks.Options{
		OverlapPolicy:        overlapPolicy,
		MaxConcurrentFetches: config.MaxConcurrentFetches,
		Metrics:              metrics,
	})

	staticCount := scheduleStaticTasks(scheduler, configCache.GetEnabledConfigs())

	entries, err := entryRepo.ListAutoDialEntries()
	if err != nil {
		slog.Error("Failed to load news entries", "error", err)
		os.Exit(1)
	}
	entryCount := scheduleEntries(scheduler, entries)

	scheduler.Start()
	slog.Info("Boot-time tasks scheduled", "task_files", staticCount, "news_entries", entryCount)

	handler := api.NewHandler(scheduler, sink, entryRepo, configCache)
	server := api.NewServer(handler, config.APIAccessKey, registry)

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	scheduler.Stop()

	slog.Info("Shutdown complete", "results_in_memory", sink.Len())
}
