package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tendant/image-inference-pipeline/internal/detections"
	"github.com/tendant/image-inference-pipeline/internal/imageops"
	"github.com/tendant/image-inference-pipeline/internal/metrics"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// RenderFinishedMessage is the body message of a successful render
const RenderFinishedMessage = "Image processing finished!"

// RenderStep draws stored detections onto the resized image and uploads it
// under labeled_images/.
type RenderStep struct {
	reader  ObjectReader
	writer  ObjectWriter
	results ResultReader
}

// NewRenderStep creates a label and render step
func NewRenderStep(reader ObjectReader, writer ObjectWriter, results ResultReader) *RenderStep {
	return &RenderStep{reader: reader, writer: writer, results: results}
}

// Name returns the step name
func (s *RenderStep) Name() string {
	return pipeline.StepRender
}

// Execute renders the detections of every endpoint in eps. All endpoints
// refer to the same image; the first one supplies its location.
func (s *RenderStep) Execute(ctx context.Context, runID string, eps []pipeline.EndpointConfig) (out *pipeline.RenderResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStep(pipeline.StepRender, start, err) }()

	if len(eps) == 0 {
		return nil, fmt.Errorf("%w: no endpoints to render", pipeline.ErrInvalidRecord)
	}
	first := eps[0]
	if err := first.ValidateTarget(); err != nil {
		return nil, err
	}
	imageName := pipeline.ImageName(first.ImageFilename)

	log.Printf("[%s] Rendering %d endpoint(s) onto %s/%s", runID, len(eps), first.Bucket, first.ImagePath)

	reader, err := s.reader.GetObject(ctx, first.Bucket, first.ImagePath)
	if err != nil {
		log.Printf("[%s] Failed to download resized image: %v", runID, err)
		return nil, fmt.Errorf("download failed: %w", err)
	}
	img, err := imageops.Decode(reader)
	reader.Close()
	if err != nil {
		return nil, err
	}
	canvas := imageops.NewCanvas(img)

	record, err := s.results.GetRecord(ctx, first.TableName, imageName)
	if err != nil {
		log.Printf("[%s] Failed to load results for %s: %v", runID, imageName, err)
		return nil, err
	}

	drawn := 0
	for _, ep := range eps {
		entries, ok := record.Fields[ep.DBKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %s", ErrFieldNotFound, imageName, ep.DBKey)
		}

		n, err := s.drawEntries(runID, canvas, entries, float64(ep.Threshold))
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.DBKey, err)
		}
		log.Printf("[%s] %s: %d of %d detection(s) at or above %v", runID, ep.DBKey, n, len(entries), float64(ep.Threshold))
		drawn += n
	}

	buf, err := imageops.EncodeJPEG(canvas.Image())
	if err != nil {
		return nil, err
	}

	key := pipeline.LabeledPrefix + first.ImageFilename
	if err := s.writer.PutObject(ctx, first.Bucket, key, buf, "image/jpeg"); err != nil {
		log.Printf("[%s] Failed to upload labeled image: %v", runID, err)
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	metrics.AddBoxes(drawn)

	log.Printf("[%s] Labeled image written: %s/%s (%d boxes)", runID, first.Bucket, key, drawn)

	body, _ := json.Marshal(RenderFinishedMessage)
	return &pipeline.RenderResult{
		StatusCode:  http.StatusOK,
		Body:        string(body),
		LabeledPath: key,
		BoxesDrawn:  drawn,
	}, nil
}

// drawEntries draws every entry whose confidence reaches threshold and
// returns how many were drawn.
func (s *RenderStep) drawEntries(runID string, canvas *imageops.Canvas, entries []pipeline.DetectionEntry, threshold float64) (int, error) {
	drawn := 0
	for _, entry := range entries {
		conf, err := entry.Confidence()
		if err != nil {
			return drawn, err
		}
		if conf < threshold {
			continue
		}

		left, top, right, bottom, err := entry.Box()
		if err != nil {
			return drawn, err
		}
		x1, y1, x2, y2 := canvas.PixelBox(left, top, right, bottom)

		idx := imageops.ColorIndex(conf)
		col, ok := imageops.PaletteColor(idx)
		if !ok {
			fallback := imageops.MaxColorIndex
			if idx < 1 {
				fallback = 1
			}
			log.Printf("[%s] Warning: confidence %v maps to color %d, using %d", runID, conf, idx, fallback)
			col, _ = imageops.PaletteColor(fallback)
		}

		text := entry.ObjLabel + ": " + detections.FormatFloat(detections.RoundTo(conf, 2))
		canvas.DrawLabeledBox(x1, y1, x2, y2, text, col)
		drawn++
	}
	return drawn, nil
}
