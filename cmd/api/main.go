package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/api"
	"github.com/ajitpratap0/paramforge/internal/audit"
	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/deps"
	"github.com/ajitpratap0/paramforge/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", config.GetVersion()).Msg("Starting paramforge API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	d, err := deps.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer d.Close()

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		var checks []metrics.HealthCheck
		if d.DB != nil {
			checks = append(checks, d.DB.Health)
		}
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger, checks...)
		if err := metricsServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}

	managerOpts := api.ManagerOptions{
		MaxActive:   cfg.API.MaxActiveRuns,
		MaxRetained: cfg.API.MaxRetainedRuns,
		Observers:   d.Observers,
	}
	serverCfg := api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Domains:        d.Domains,
		Defaults:       cfg.Evolution.ToEvolutionConfig(),
	}
	if d.DB != nil {
		managerOpts.Store = d.Store
		serverCfg.DB = d.DB
		serverCfg.Audit = audit.NewLogger(d.DB.Pool(), true)
	}
	serverCfg.Manager = api.NewRunManager(d.Domains, d.Oracle, managerOpts)

	if cfg.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(serverCfg)

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
		os.Exit(1)
	}

	log.Info().Msg("Server stopped successfully")
}
