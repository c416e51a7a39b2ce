package pipeline

import "errors"

var (
	// ErrInvalidRecord is returned when a record is missing required fields
	ErrInvalidRecord = errors.New("invalid workflow record")

	// ErrInvalidConfig is returned when the endpoint configuration cannot be used
	ErrInvalidConfig = errors.New("invalid endpoint configuration")

	// ErrMissingParameter is returned when a configuration parameter is not set
	ErrMissingParameter = errors.New("parameter not found")

	// ErrRecordNotFound is returned when no result row exists for an image
	ErrRecordNotFound = errors.New("result record not found")
)
