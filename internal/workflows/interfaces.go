package workflows

import (
	"context"
	"io"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ObjectReader reads images from object storage
type ObjectReader interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// ObjectWriter writes images to object storage
type ObjectWriter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) error
}

// ResultWriter persists one endpoint's detections for an image
type ResultWriter interface {
	PutResults(ctx context.Context, table, imageName, field string, entries []pipeline.DetectionEntry) error
}

// ResultReader loads every endpoint's detections for an image
type ResultReader interface {
	GetRecord(ctx context.Context, table, imageName string) (*pipeline.ResultRecord, error)
}

// ParamReader reads named configuration parameters
type ParamReader interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Invoker calls a named inference endpoint
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error)
}

// Starter starts one pipeline execution for an ingested image and returns its id
type Starter interface {
	Start(ctx context.Context, rec pipeline.Record) (string, error)
}

// MessageAcker deletes a consumed queue message
type MessageAcker interface {
	Delete(ctx context.Context, queueURL, receiptHandle string) error
}

// DedupeRecorder counts how many times an image has been submitted
type DedupeRecorder interface {
	Record(ctx context.Context, key string, pipelineName string, pipelineVersion int) (int, error)
}
