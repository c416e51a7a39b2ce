package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/tendant/image-inference-pipeline/internal/app"
	"github.com/tendant/image-inference-pipeline/internal/config"
	"github.com/tendant/image-inference-pipeline/internal/dbosruntime"
	"github.com/tendant/image-inference-pipeline/internal/dedupe"
	"github.com/tendant/image-inference-pipeline/internal/handlers"
	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/internal/workflows"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	components, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer components.Close()

	// Initialize DBOS runtime (required)
	dbosRuntime, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
		DatabaseURL:        cfg.DBOSDatabaseURL,
		AppName:            cfg.DBOSAppName,
		QueueName:          cfg.DBOSQueueName,
		Concurrency:        cfg.DBOSConcurrency,
		ApplicationVersion: cfg.DBOSAppVersion,
	})
	if err != nil {
		log.Fatalf("Failed to initialize DBOS: %v", err)
	}

	// Registers the pipeline and inference workflows, so it must precede Launch
	workflowRunner := workflows.NewWorkflowRunner(components.Steps(), dbosRuntime)

	if err := dbosRuntime.Launch(); err != nil {
		log.Fatalf("Failed to launch DBOS: %v", err)
	}
	defer dbosRuntime.Shutdown(10 * time.Second)

	log.Printf("✓ DBOS runtime initialized")
	log.Printf("  Queue: %s", dbosRuntime.QueueName())
	log.Printf("  Concurrency: %d", dbosRuntime.Concurrency())

	var ledger workflows.DedupeRecorder
	if cfg.DedupeEnabled {
		tracker, err := dedupe.NewTracker(dbosRuntime.DB(), "postgres")
		if err != nil {
			log.Fatalf("Failed to initialize dedupe ledger: %v", err)
		}
		ledger = tracker
	}

	// With ORCHESTRATOR=dbos, ingested images become durable runs on this
	// worker's queue; otherwise they start the Step Functions state machine.
	ingest, err := components.IngestStep(ctx, workflowRunner, ledger)
	if err != nil {
		log.Fatalf("Failed to initialize ingest: %v", err)
	}

	router := handlers.NewRouter(
		handlers.NewAsyncHandler(workflowRunner, ledger),
		handlers.NewIngestHandler(ingest),
		metrics.Handler(),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Pipeline worker starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
