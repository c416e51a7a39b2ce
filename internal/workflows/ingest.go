package workflows

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/internal/queue"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// PipelineName and PipelineVersion identify submissions in the dedupe ledger
const (
	PipelineName    = "image_inference"
	PipelineVersion = 1
)

// StartedRun describes one pipeline execution started by the ingest step
type StartedRun struct {
	ExecutionID string          `json:"execution_id"`
	Record      pipeline.Record `json:"record"`
	SeenCount   int             `json:"seen_count,omitempty"`
}

// IngestResult summarizes one batch of queue messages
type IngestResult struct {
	Started []StartedRun `json:"started"`
	Acked   int          `json:"acked"`
	Skipped int          `json:"skipped"`
}

// IngestStep turns queued storage notifications into pipeline executions
type IngestStep struct {
	params  ParamReader
	starter Starter
	acker   MessageAcker
	dedupe  DedupeRecorder
}

// NewIngestStep creates an ingest step. dedupe may be nil.
func NewIngestStep(params ParamReader, starter Starter, acker MessageAcker, dedupe DedupeRecorder) *IngestStep {
	return &IngestStep{params: params, starter: starter, acker: acker, dedupe: dedupe}
}

// Name returns the step name
func (s *IngestStep) Name() string {
	return pipeline.StepIngest
}

// Execute starts one execution per object in each message and then deletes
// the message. A message is deleted only after all of its starts succeeded;
// on failure the error is returned and the message stays queued for redelivery.
func (s *IngestStep) Execute(ctx context.Context, runID string, event events.SQSEvent) (out *IngestResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(pipeline.StepIngest, start, err) }()

	log.Printf("[%s] Ingesting %d message(s)", runID, len(event.Records))

	queueURL, err := s.params.GetParameter(ctx, pipeline.ParamQueueURL)
	if err != nil {
		log.Printf("[%s] Failed to read %s: %v", runID, pipeline.ParamQueueURL, err)
		return nil, fmt.Errorf("queue lookup failed: %w", err)
	}

	result := &IngestResult{}
	for _, msg := range event.Records {
		records, err := queue.ParseNotification(msg.Body)
		if err != nil {
			log.Printf("[%s] Message %s is not a storage notification: %v", runID, msg.MessageId, err)
			metrics.MessageIngested("failed")
			return result, err
		}

		if len(records) == 0 {
			log.Printf("[%s] Message %s has no records - skipping", runID, msg.MessageId)
			if err := s.acker.Delete(ctx, queueURL, msg.ReceiptHandle); err != nil {
				metrics.MessageIngested("failed")
				return result, err
			}
			metrics.MessageIngested("skipped")
			result.Skipped++
			continue
		}

		for _, rec := range records {
			run, err := s.startOne(ctx, runID, rec)
			if err != nil {
				metrics.MessageIngested("failed")
				return result, err
			}
			result.Started = append(result.Started, run)
		}

		if err := s.acker.Delete(ctx, queueURL, msg.ReceiptHandle); err != nil {
			log.Printf("[%s] Failed to delete message %s: %v", runID, msg.MessageId, err)
			metrics.MessageIngested("failed")
			return result, err
		}
		metrics.MessageIngested("acked")
		result.Acked++
	}

	log.Printf("[%s] Ingest complete: %d started, %d acked, %d skipped", runID, len(result.Started), result.Acked, result.Skipped)
	return result, nil
}

func (s *IngestStep) startOne(ctx context.Context, runID string, rec pipeline.Record) (StartedRun, error) {
	run := StartedRun{Record: rec}

	if s.dedupe != nil {
		seen, err := s.dedupe.Record(ctx, rec.Bucket+"/"+rec.ImagePath, PipelineName, PipelineVersion)
		if err != nil {
			// The ledger is informational; a failed write never blocks ingestion.
			log.Printf("[%s] Failed to record dedupe entry: %v", runID, err)
		} else {
			run.SeenCount = seen
			if seen > 1 {
				log.Printf("[%s] %s/%s seen %d times", runID, rec.Bucket, rec.ImagePath, seen)
			}
		}
	}

	execID, err := s.starter.Start(ctx, rec)
	if err != nil {
		log.Printf("[%s] Failed to start pipeline for %s/%s: %v", runID, rec.Bucket, rec.ImagePath, err)
		return run, fmt.Errorf("start failed: %w", err)
	}
	run.ExecutionID = execID

	log.Printf("[%s] Started pipeline %s for %s/%s", runID, execID, rec.Bucket, rec.ImagePath)
	return run, nil
}
