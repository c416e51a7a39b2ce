package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tendant/image-inference-pipeline/internal/app"
	"github.com/tendant/image-inference-pipeline/internal/config"
	"github.com/tendant/image-inference-pipeline/internal/handlers"
	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/internal/workflows"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// Standalone pipeline for local testing
// Uses filesystem storage (STORAGE_DIR, one subdirectory per bucket), a SQLite
// record store and an HTTP inference server; runs every step in-process.
//
//	go run ./cmd/pipeline-standalone                  # serve POST /v1/process
//	go run ./cmd/pipeline-standalone photos cat.jpg   # process one image and exit
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.StorageBackend = config.StorageFilesystem
	cfg.RecordBackend = config.RecordsSQLite
	cfg.InferenceBackend = config.InferenceHTTP
	cfg.ParamBackend = config.ParamsStatic
	if cfg.RecordDSN == "" {
		cfg.RecordDSN = filepath.Join(cfg.StorageDir, "records.db")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("Failed to create storage directory: %v", err)
	}

	log.Printf("Pipeline Standalone Worker")
	log.Printf("  Storage directory: %s", cfg.StorageDir)
	log.Printf("  Record database: %s", cfg.RecordDSN)
	log.Printf("  Inference server: %s", cfg.InferenceURL)

	ctx := context.Background()
	components, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer components.Close()

	ledger, err := components.Dedupe()
	if err != nil {
		log.Fatalf("Failed to initialize dedupe ledger: %v", err)
	}

	h := &Handler{
		workflowRunner: workflows.NewWorkflowRunner(components.Steps(), nil),
		dedupe:         ledger,
	}

	if args := os.Args[1:]; len(args) == 2 {
		result, err := h.process(ctx, pipeline.NewRecord(args[0], args[1]))
		if err != nil {
			log.Fatalf("Pipeline failed: %v", err)
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/v1/process", h.handleProcess).Methods(http.MethodPost)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✓ Pipeline standalone ready on %s", cfg.HTTPAddr)
		log.Printf("  POST /v1/process {\"bucket\":\"photos\",\"key\":\"uploads/cat.jpg\"}")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

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

// Handler runs pipelines synchronously for HTTP callers
type Handler struct {
	workflowRunner *workflows.WorkflowRunner
	dedupe         workflows.DedupeRecorder
}

// result is returned by a synchronous run
type result struct {
	RunID           string                 `json:"run_id"`
	DedupeSeenCount int                    `json:"dedupe_seen_count"`
	Outputs         map[string]interface{} `json:"outputs"`
}

func (h *Handler) process(ctx context.Context, rec pipeline.Record) (*result, error) {
	runID := uuid.New().String()

	seen := 0
	if h.dedupe != nil {
		n, err := h.dedupe.Record(ctx, rec.Bucket+"/"+rec.ImagePath, workflows.PipelineName, workflows.PipelineVersion)
		if err != nil {
			log.Printf("[%s] Failed to record dedupe entry: %v", runID, err)
		}
		seen = n
	}

	res, err := h.workflowRunner.Run(&workflows.WorkflowContext{
		Ctx:    ctx,
		Record: rec,
		RunID:  runID,
	})
	if err != nil {
		return nil, err
	}
	return &result{RunID: runID, DedupeSeenCount: seen, Outputs: res.Outputs}, nil
}

// handleProcess handles the /v1/process endpoint
func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req handlers.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Bucket == "" || req.Key == "" {
		http.Error(w, "bucket and key are required", http.StatusBadRequest)
		return
	}

	res, err := h.process(r.Context(), pipeline.NewRecord(req.Bucket, req.Key))
	if err != nil {
		http.Error(w, fmt.Sprintf("Workflow failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(res)
}
