package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rh-orchestrator/api/rest/routes"
	"rh-orchestrator/config"
	"rh-orchestrator/core/executor"
	"rh-orchestrator/core/monitoring"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/core/scheduler"
	"rh-orchestrator/providers/runninghub"
	"rh-orchestrator/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := monitoring.SetupOTelSDK(ctx, time.Minute)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()
	logger := monitoring.Logger()

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir, cfg.ResourceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	// Initialize stores
	store := storage.NewJSONStore()
	settings, err := config.NewSettingsStore(cfg.DataDir, store)
	if err != nil {
		logger.Warn("settings file unreadable, using defaults", "error", err)
	}
	templates := repository.NewTemplateRepository(store, cfg.DataDir)
	profiles := repository.NewProfileRepository(store, cfg.DataDir)
	resources := repository.NewResourceRepository(store, cfg.DataDir)
	registry := repository.NewJobRegistry()

	// Optional artifact mirror
	var mirror executor.ArtifactMirror
	m, err := storage.NewArtifactMirror(ctx, storage.MirrorConfig{
		Bucket:   cfg.S3.Bucket,
		Region:   cfg.S3.Region,
		Endpoint: cfg.S3.Endpoint,
		Prefix:   cfg.S3.Prefix,
	})
	if err != nil {
		log.Fatalf("Failed to configure artifact mirror: %v", err)
	}
	if m != nil {
		mirror = m
		logger.Info("artifact mirror enabled", "bucket", cfg.S3.Bucket)
	}

	remote := runninghub.Options{
		BaseURL:         cfg.RemoteBaseURL,
		HistoryPages:    cfg.HistoryPages,
		HistoryPageSize: cfg.HistoryPageSize,
	}
	metrics := monitoring.NewMetricsExporter()
	remote.Observe = metrics.RemoteRequest

	// Initialize scheduler
	sched := scheduler.NewScheduler(registry, templates, profiles, settings, scheduler.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		DownloadDir:       cfg.DownloadDir,
		Remote:            remote,
		Mirror:            mirror,
		Metrics:           metrics,
		Retention:         cfg.JobRetention,
	})
	sched.Start(ctx)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: routes.NewHandler(routes.Dependencies{
			Jobs:        sched,
			Templates:   templates,
			Profiles:    profiles,
			Resources:   resources,
			Settings:    settings,
			Remote:      remote,
			DownloadDir: cfg.DownloadDir,
			ResourceDir: cfg.ResourceDir,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort, "max_concurrent_jobs", cfg.MaxConcurrentJobs)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("jobs did not stop in time", "error", err)
	}
	logger.Info("server exited")
}
