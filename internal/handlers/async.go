package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tendant/image-inference-pipeline/internal/workflows"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// PipelineRunner enqueues durable pipeline runs and reports their status
type PipelineRunner interface {
	RunAsync(ctx context.Context, rec pipeline.Record) (string, error)
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
}

// ProcessRequest is the body of POST /v1/process
type ProcessRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// AsyncHandler handles asynchronous pipeline requests
type AsyncHandler struct {
	runner PipelineRunner
	dedupe workflows.DedupeRecorder
}

// NewAsyncHandler creates a new async handler. dedupe may be nil.
func NewAsyncHandler(runner PipelineRunner, dedupe workflows.DedupeRecorder) *AsyncHandler {
	return &AsyncHandler{
		runner: runner,
		dedupe: dedupe,
	}
}

// HandleProcessAsync handles POST /v1/process - enqueues a pipeline run and returns immediately
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Bucket == "" {
		http.Error(w, "bucket is required", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	rec := pipeline.NewRecord(req.Bucket, req.Key)
	log.Printf("Enqueueing pipeline: bucket=%s, key=%s", rec.Bucket, rec.ImagePath)

	seen := 0
	if h.dedupe != nil {
		count, err := h.dedupe.Record(r.Context(), rec.Bucket+"/"+rec.ImagePath, workflows.PipelineName, workflows.PipelineVersion)
		if err != nil {
			log.Printf("Failed to record dedupe entry: %v", err)
		} else {
			seen = count
		}
	}

	runID, err := h.runner.RunAsync(r.Context(), rec)
	if err != nil {
		log.Printf("Failed to enqueue pipeline: %v", err)
		http.Error(w, fmt.Sprintf("Failed to enqueue pipeline: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("Pipeline enqueued successfully: run_id=%s", runID)

	writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{
		RunID:           runID,
		DedupeSeenCount: seen,
	})
}

// HandleStatus handles GET /v1/runs/{runID} - returns pipeline run status
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.runner.GetStatus(r.Context(), runID)
	if errors.Is(err, workflows.ErrWorkflowNotFound) {
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to get workflow status: %v", err)
		http.Error(w, fmt.Sprintf("Failed to get status: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// HandleHealth returns health status
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
