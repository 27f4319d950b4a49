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

	"github.com/iconidentify/fetchd/internal/api"
	"github.com/iconidentify/fetchd/internal/api/handler"
	"github.com/iconidentify/fetchd/internal/config"
	"github.com/iconidentify/fetchd/internal/fetch"
	"github.com/iconidentify/fetchd/internal/repository"
	"github.com/iconidentify/fetchd/internal/service"
	"github.com/iconidentify/fetchd/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fetchd %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting fetchd",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Ensure storage directories exist
	if err := os.MkdirAll(cfg.Storage.BasePath, 0755); err != nil {
		logger.Error("failed to create storage directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		logger.Error("failed to create database directory", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	jobRepo, err := repository.OpenSQLiteJobRepository(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open job database", "error", err)
		os.Exit(1)
	}
	defer jobRepo.Close()

	session := fetch.NewSession(cfg.Transport)
	defer session.Close()

	pipeline := fetch.NewPipeline(
		session,
		fetch.NewResumeStore(logger),
		fetch.NewPipelineConfig(cfg.Transport, cfg.Download),
		logger,
	)

	// Initialize service
	downloadSvc := service.NewDownloadService(jobRepo, pipeline, cfg.Storage, cfg.Download, logger)

	// Jobs interrupted by the previous run go back on the queue; they
	// resume from their transfer checkpoints.
	if err := downloadSvc.RequeueInterrupted(context.Background()); err != nil {
		logger.Error("failed to requeue interrupted downloads", "error", err)
		os.Exit(1)
	}

	// Initialize handlers
	downloadHandler := handler.NewDownloadHandler(downloadSvc, logger)
	healthHandler := handler.NewHealthHandler(jobRepo)

	// Setup router
	router := api.NewRouter(downloadHandler, healthHandler, cfg.Server.APIKey)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		downloadSvc,
		logger,
	)
	pool.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop accepting new requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers; interrupted downloads keep their checkpoints and are
	// re-queued on the next start.
	if err := pool.Stop(30 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
