package workflows

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tendant/image-inference-pipeline/internal/detections"
	"github.com/tendant/image-inference-pipeline/internal/imageops"
	"github.com/tendant/image-inference-pipeline/internal/inference"
	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// InferenceStep runs one endpoint over a resized image and stores its detections
type InferenceStep struct {
	reader  ObjectReader
	invoker Invoker
	results ResultWriter
}

// NewInferenceStep creates an inference step
func NewInferenceStep(reader ObjectReader, invoker Invoker, results ResultWriter) *InferenceStep {
	return &InferenceStep{reader: reader, invoker: invoker, results: results}
}

// Name returns the step name
func (s *InferenceStep) Name() string {
	return pipeline.StepInference
}

// Execute invokes ep's endpoint on its image and writes the mapped detections
// under ep.DBKey. Every detection is stored; thresholds apply only when rendering.
func (s *InferenceStep) Execute(ctx context.Context, runID string, ep pipeline.EndpointConfig) (out pipeline.EndpointConfig, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(pipeline.StepInference, start, err) }()

	log.Printf("[%s] Running endpoint %s on %s/%s", runID, ep.EndpointName, ep.Bucket, ep.ImagePath)

	if err := ep.ValidateTarget(); err != nil {
		log.Printf("[%s] Validation failed: %v", runID, err)
		return ep, err
	}

	reader, err := s.reader.GetObject(ctx, ep.Bucket, ep.ImagePath)
	if err != nil {
		log.Printf("[%s] Failed to download resized image: %v", runID, err)
		return ep, fmt.Errorf("download failed: %w", err)
	}
	img, err := imageops.Decode(reader)
	reader.Close()
	if err != nil {
		log.Printf("[%s] Failed to decode image: %v", runID, err)
		return ep, err
	}

	body, err := inference.BuildRequest(img)
	if err != nil {
		return ep, fmt.Errorf("request encode failed: %w", err)
	}
	log.Printf("[%s] Invoking endpoint %s (%d bytes)", runID, ep.EndpointName, len(body))

	resp, err := s.invoker.Invoke(ctx, ep.EndpointName, body)
	if err != nil {
		log.Printf("[%s] Endpoint %s failed: %v", runID, ep.EndpointName, err)
		return ep, err
	}

	pred, err := detections.ParseResponse(resp)
	if err != nil {
		log.Printf("[%s] Failed to parse response from %s: %v", runID, ep.EndpointName, err)
		return ep, err
	}

	entries, err := detections.MapDetections(pred, ep.Labels)
	if err != nil {
		log.Printf("[%s] Failed to map detections from %s: %v", runID, ep.EndpointName, err)
		return ep, err
	}

	imageName := pipeline.ImageName(ep.ImageFilename)
	if err := s.results.PutResults(ctx, ep.TableName, imageName, ep.DBKey, entries); err != nil {
		log.Printf("[%s] Failed to store results: %v", runID, err)
		return ep, fmt.Errorf("result write failed: %w", err)
	}
	metrics.AddDetections(ep.DBKey, len(entries))

	log.Printf("[%s] Stored %d detection(s) in %s/%s.%s", runID, len(entries), ep.TableName, imageName, ep.DBKey)
	return ep, nil
}
