package workflows

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// LookupStep attaches the result table and endpoint list to a record
type LookupStep struct {
	params ParamReader
}

// NewLookupStep creates an endpoint lookup step
func NewLookupStep(params ParamReader) *LookupStep {
	return &LookupStep{params: params}
}

// Name returns the step name
func (s *LookupStep) Name() string {
	return pipeline.StepLookup
}

// Execute reads table_name and endpoint_config and returns the record with
// one endpoint per configured model, each carrying the image location.
func (s *LookupStep) Execute(ctx context.Context, runID string, rec pipeline.Record) (out pipeline.Record, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(pipeline.StepLookup, start, err) }()

	log.Printf("[%s] Looking up endpoints for %s", runID, rec.ImageFilename)

	if err := rec.Validate(); err != nil {
		return rec, err
	}

	table, err := s.params.GetParameter(ctx, pipeline.ParamTableName)
	if err != nil {
		log.Printf("[%s] Failed to read %s: %v", runID, pipeline.ParamTableName, err)
		return rec, fmt.Errorf("table lookup failed: %w", err)
	}

	raw, err := s.params.GetParameter(ctx, pipeline.ParamEndpointConfig)
	if err != nil {
		log.Printf("[%s] Failed to read %s: %v", runID, pipeline.ParamEndpointConfig, err)
		return rec, fmt.Errorf("endpoint config lookup failed: %w", err)
	}

	endpoints, err := pipeline.ParseEndpointConfigs(raw)
	if err != nil {
		log.Printf("[%s] Invalid endpoint config: %v", runID, err)
		return rec, err
	}

	for i := range endpoints {
		endpoints[i].ImagePath = rec.ImagePath
		endpoints[i].ImageFilename = rec.ImageFilename
		endpoints[i].Bucket = rec.Bucket
		endpoints[i].TableName = table
	}

	rec.TableName = table
	rec.Endpoints = endpoints

	log.Printf("[%s] Found %d endpoint(s), table=%s", runID, len(endpoints), table)
	return rec, nil
}
