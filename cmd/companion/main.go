package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moxie_companion/internal/config"
	"moxie_companion/internal/httpapi"
	"moxie_companion/internal/logging"
	"moxie_companion/internal/models"
	"moxie_companion/internal/usage"
)

const demoRecords = 120

func main() {
	demo := flag.Bool("demo", false, "seed the usage dashboard with sample data")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logOutput := logging.Init(cfg.Log)
	defer logOutput.Close()

	ctx := context.Background()
	deps, err := httpapi.NewDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}

	if *demo || cfg.DemoMode {
		seedDemoUsage(ctx, deps.Repository)
	}

	// Create HTTP server
	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(cfg, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logging.Infof("Moxie companion listening on %s (provider %s)", addr, deps.Gateway.CurrentProvider())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop workers, disconnect the robot and flush the access log
	if err := deps.Close(shutdownCtx); err != nil {
		logging.Errorf("Shutdown incomplete: %v", err)
	}

	logging.Infof("Server exited")
}

func seedDemoUsage(ctx context.Context, repo usage.Repository) {
	now := time.Now()
	samples := usage.SampleRecords(demoRecords, now, rand.New(rand.NewSource(now.UnixNano())))
	records := make([]*models.UsageRecord, len(samples))
	for i := range samples {
		records[i] = &samples[i]
	}
	if err := repo.CreateBatch(ctx, records); err != nil {
		logging.Warningf("Failed to seed demo usage: %v", err)
		return
	}
	logging.Infof("Demo mode: seeded %d sample usage records", len(records))
}
