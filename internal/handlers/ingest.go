package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/tendant/image-inference-pipeline/internal/workflows"
)

// Ingester consumes a batch of queued storage notifications
type Ingester interface {
	Execute(ctx context.Context, runID string, event events.SQSEvent) (*workflows.IngestResult, error)
}

// IngestHandler accepts SQS event batches over HTTP, for deployments where a
// queue poller forwards messages to the worker instead of invoking a Lambda
type IngestHandler struct {
	ingest Ingester
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest Ingester) *IngestHandler {
	return &IngestHandler{ingest: ingest}
}

// HandleIngest handles POST /v1/ingest. The body is an SQS event; messages
// processed before a failure are reported alongside the error.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var event events.SQSEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	runID := uuid.New().String()
	result, err := h.ingest.Execute(r.Context(), runID, event)
	if err != nil {
		log.Printf("[%s] Ingest failed: %v", runID, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}
