package recordstore

import (
	"context"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ErrRecordNotFound is returned when no result row exists for an image
var ErrRecordNotFound = pipeline.ErrRecordNotFound

// Store persists per-image detection results. Each endpoint writes its own
// field; writes to different fields of the same row do not interfere.
type Store interface {
	// PutResults sets field on the row keyed by imageName, creating the row if needed
	PutResults(ctx context.Context, table, imageName, field string, entries []pipeline.DetectionEntry) error

	// GetRecord returns every field stored for imageName
	GetRecord(ctx context.Context, table, imageName string) (*pipeline.ResultRecord, error)
}
