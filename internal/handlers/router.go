package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the worker's HTTP endpoints. ingest and metrics may be nil.
func NewRouter(async *AsyncHandler, ingest *IngestHandler, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", HandleHealth).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/process", async.HandleProcessAsync).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs/{runID}", async.HandleStatus).Methods(http.MethodGet)
	if ingest != nil {
		r.HandleFunc("/v1/ingest", ingest.HandleIngest).Methods(http.MethodPost)
	}
	return r
}
