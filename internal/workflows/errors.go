package workflows

import (
	"errors"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

var (
	// ErrWorkflowNotFound is returned when a run id is unknown
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrStepFailed is returned when a workflow step fails
	ErrStepFailed = errors.New("workflow step failed")

	// ErrInvalidRequest is returned when the request is invalid
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrSourceNotFound is returned when the image to process does not exist
	ErrSourceNotFound = errors.New("source image not found")

	// ErrFieldNotFound is returned when a result record has no field for an endpoint
	ErrFieldNotFound = errors.New("result field not found")

	// ErrRecordNotFound is returned when no result record exists for an image
	ErrRecordNotFound = pipeline.ErrRecordNotFound

	// ErrMissingParameter is returned when a configuration parameter is not set
	ErrMissingParameter = pipeline.ErrMissingParameter
)
