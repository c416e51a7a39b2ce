package workflows

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tendant/image-inference-pipeline/internal/imageops"
	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ResizeStep scales an uploaded image down to the pipeline's working size
// and stores it under resized_images/.
type ResizeStep struct {
	reader ObjectReader
	writer ObjectWriter
	maxDim int
}

// NewResizeStep creates a resize step. A maxDim of zero uses the default of 1000.
func NewResizeStep(reader ObjectReader, writer ObjectWriter, maxDim int) *ResizeStep {
	if maxDim <= 0 {
		maxDim = pipeline.DefaultMaxDimension
	}
	return &ResizeStep{reader: reader, writer: writer, maxDim: maxDim}
}

// Name returns the step name
func (s *ResizeStep) Name() string {
	return pipeline.StepResize
}

// Execute resizes the record's image and returns the record with image_path
// pointing at the resized copy. The copy is written even when no scaling was needed.
func (s *ResizeStep) Execute(ctx context.Context, runID string, rec pipeline.Record) (out pipeline.Record, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(pipeline.StepResize, start, err) }()

	log.Printf("[%s] Starting resize for %s/%s", runID, rec.Bucket, rec.ImagePath)

	if err := rec.Validate(); err != nil {
		log.Printf("[%s] Validation failed: %v", runID, err)
		return rec, err
	}

	exists, err := s.reader.Exists(ctx, rec.Bucket, rec.ImagePath)
	if err != nil {
		log.Printf("[%s] Failed to check source image: %v", runID, err)
		return rec, fmt.Errorf("source check failed: %w", err)
	}
	if !exists {
		log.Printf("[%s] Source image not found: %s/%s", runID, rec.Bucket, rec.ImagePath)
		return rec, fmt.Errorf("%w: %s/%s", ErrSourceNotFound, rec.Bucket, rec.ImagePath)
	}

	reader, err := s.reader.GetObject(ctx, rec.Bucket, rec.ImagePath)
	if err != nil {
		log.Printf("[%s] Failed to download source image: %v", runID, err)
		return rec, fmt.Errorf("download failed: %w", err)
	}
	defer reader.Close()

	img, err := imageops.Decode(reader)
	if err != nil {
		log.Printf("[%s] Failed to decode image: %v", runID, err)
		return rec, err
	}

	b := img.Bounds()
	resized := imageops.Resize(img, s.maxDim)
	rb := resized.Bounds()
	log.Printf("[%s] Image resized: %dx%d -> %dx%d", runID, b.Dx(), b.Dy(), rb.Dx(), rb.Dy())

	buf, contentType, err := imageops.EncodeForFilename(resized, rec.ImageFilename)
	if err != nil {
		log.Printf("[%s] Failed to encode image: %v", runID, err)
		return rec, err
	}

	key := pipeline.ResizedPrefix + rec.ImageFilename
	if err := s.writer.PutObject(ctx, rec.Bucket, key, buf, contentType); err != nil {
		log.Printf("[%s] Failed to upload resized image: %v", runID, err)
		return rec, fmt.Errorf("upload failed: %w", err)
	}

	log.Printf("[%s] Resized image written: %s/%s", runID, rec.Bucket, key)

	rec.ImagePath = key
	return rec, nil
}
