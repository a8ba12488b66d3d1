// Package main is the entry point for the graph query optimizer service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sergeeey/TERAG111-sub002/internal/api"
	"github.com/sergeeey/TERAG111-sub002/internal/app"
	"github.com/sergeeey/TERAG111-sub002/internal/config"
	"github.com/sergeeey/TERAG111-sub002/internal/optimizer"
	"github.com/sergeeey/TERAG111-sub002/internal/receiver"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	log.Println("Starting graph query optimizer...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Initializing optimizer: %v", err)
	}

	// Create OTLP receivers feeding the shared line buffer
	httpReceiver := receiver.NewHTTPReceiver(cfg.OTLPHTTPAddr, application.Buffer, logger)
	grpcReceiver := receiver.NewGRPCReceiver(cfg.OTLPGRPCAddr, application.Buffer, logger)

	// Create REST API server
	apiServer := api.NewServer(api.Config{
		Addr:         cfg.APIAddr,
		Optimizer:    application.Optimizer,
		Store:        application.Store,
		Detector:     application.Detector,
		ThresholdMs:  cfg.ThresholdMs,
		DryRun:       cfg.DryRun,
		RunRateLimit: cfg.RunRateLimit,
		Logger:       logger,
	})

	// Start pprof server for profiling (separate port)
	if cfg.PprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s/debug/pprof", cfg.PprofAddr)
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Start servers in goroutines
	errChan := make(chan error, 3)

	go func() {
		log.Printf("Starting OTLP HTTP receiver on %s", cfg.OTLPHTTPAddr)
		if err := httpReceiver.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("OTLP HTTP receiver error: %w", err)
		}
	}()

	go func() {
		log.Printf("Starting OTLP gRPC receiver on %s", cfg.OTLPGRPCAddr)
		if err := grpcReceiver.Start(); err != nil {
			errChan <- fmt.Errorf("OTLP gRPC receiver error: %w", err)
		}
	}()

	go func() {
		log.Printf("Starting REST API server on %s", cfg.APIAddr)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	scheduler := optimizer.NewScheduler(application.Optimizer, cfg.ScheduleInterval, cfg.ThresholdMs, cfg.DryRun, logger)
	go scheduler.Start(ctx)

	// Give servers time to start
	time.Sleep(100 * time.Millisecond)
	log.Println("All servers started successfully")
	log.Println("OTLP endpoints:")
	log.Printf("  - HTTP: http://%s/v1/logs", cfg.OTLPHTTPAddr)
	log.Printf("  - gRPC: %s", cfg.OTLPGRPCAddr)
	log.Println("API endpoints:")
	log.Printf("  - Runs: http://%s/api/v1/optimizer/runs", cfg.APIAddr)
	log.Printf("  - Ledger: http://%s/api/v1/optimizer/ledger", cfg.APIAddr)
	log.Printf("  - Breaker: http://%s/api/v1/optimizer/breaker", cfg.APIAddr)
	log.Printf("  - Slow operations: http://%s/api/v1/slow-operations", cfg.APIAddr)
	log.Printf("  - Health: http://%s/api/v1/health", cfg.APIAddr)
	log.Printf("  - Prometheus: http://%s/metrics", cfg.APIAddr)
	if cfg.ScheduleInterval > 0 {
		log.Printf("Scheduled runs every %s (threshold %vms, dry_run=%v)", cfg.ScheduleInterval, cfg.ThresholdMs, cfg.DryRun)
	}

	// Wait for shutdown signal
	select {
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	case <-ctx.Done():
		log.Println("Received shutdown signal, shutting down...")
	}
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("Shutting down servers...")
	if err := httpReceiver.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down OTLP HTTP receiver: %v", err)
	}
	if err := grpcReceiver.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down OTLP gRPC receiver: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Closing storage...")
	if err := application.Close(shutdownCtx); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	log.Println("Shutdown complete")
}
