package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/handlers"
	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Parse command-line flags
	var (
		port    = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		workers = flag.Int("workers", 1, "Number of ingestion job workers")
	)
	flag.Parse()

	// Initialize logger
	log := logger.NewWithLevel(cfg.LogLevel)

	decimal.MarshalJSONWithoutQuotes = true

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	balance, cashFlow, err := a.Reports()
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.COAPath).Msg("Failed to load chart of accounts")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, log).WithWorkers(*workers)

	var refresh jobs.RefreshRunner
	if a.Refresher != nil {
		refresh = a.Refresher
	}
	runner := jobs.NewRunner(a.CSV, refresh, log)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	// Initialize handlers
	mux := handlers.NewMux(
		handlers.NewReportsHandler(balance, cashFlow, log),
		handlers.NewIngestHandler(jobQueue, a.CSV, a.Staging, a.Analyzer, cfg.CSVPath, log),
		handlers.NewJobsHandler(jobStore, log),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      middleware.Chain(mux, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("backend", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
