package pipeline

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Record is the workflow record threaded through the pipeline steps.
// Steps only ever add fields to it.
type Record struct {
	Bucket        string           `json:"bucket"`
	ImagePath     string           `json:"image_path"`
	ImageFilename string           `json:"image_filename"`
	TableName     string           `json:"table_name,omitempty"`
	Endpoints     []EndpointConfig `json:"endpoints,omitempty"`
}

// NewRecord builds the initial record for an uploaded object key.
func NewRecord(bucket, key string) Record {
	return Record{
		Bucket:        bucket,
		ImagePath:     key,
		ImageFilename: path.Base(key),
	}
}

// Validate checks the fields every step relies on
func (r Record) Validate() error {
	if r.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", ErrInvalidRecord)
	}
	if r.ImagePath == "" {
		return fmt.Errorf("%w: image_path is required", ErrInvalidRecord)
	}
	if r.ImageFilename == "" {
		return fmt.Errorf("%w: image_filename is required", ErrInvalidRecord)
	}
	return nil
}

// ImageName returns the result record key for the record's image.
func (r Record) ImageName() string {
	return ImageName(r.ImageFilename)
}

// ImageName strips the last extension from a filename. A leading dot is not
// treated as an extension separator, so ".hidden" stays ".hidden".
func ImageName(filename string) string {
	base := strings.TrimLeft(filename, ".")
	prefix := filename[:len(filename)-len(base)]
	if i := strings.LastIndex(base, "."); i > 0 {
		return prefix + base[:i]
	}
	return filename
}

// Threshold is a confidence threshold that decodes from either a JSON number
// or a numeric string ("0.5").
type Threshold float64

// UnmarshalJSON implements json.Unmarshaler
func (t *Threshold) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: threshold %q is not a number", ErrInvalidConfig, s)
	}
	*t = Threshold(v)
	return nil
}

// EndpointConfig describes one inference endpoint and, once the lookup step
// has run, the image it should be applied to.
type EndpointConfig struct {
	EndpointName string    `json:"ep_name"`
	DBKey        string    `json:"db_key"`
	Labels       []string  `json:"labels"`
	Threshold    Threshold `json:"threshold"`

	ImagePath     string `json:"image_path,omitempty"`
	ImageFilename string `json:"image_filename,omitempty"`
	Bucket        string `json:"bucket,omitempty"`
	TableName     string `json:"table_name,omitempty"`
}

// UnmarshalJSON accepts "endpoint_name" as an alias for "ep_name".
func (e *EndpointConfig) UnmarshalJSON(data []byte) error {
	type plain EndpointConfig
	var aux struct {
		plain
		AltName string `json:"endpoint_name"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = EndpointConfig(aux.plain)
	if e.EndpointName == "" {
		e.EndpointName = aux.AltName
	}
	return nil
}

// Validate checks the configuration fields of the endpoint.
func (e EndpointConfig) Validate() error {
	if e.EndpointName == "" {
		return fmt.Errorf("%w: ep_name is required", ErrInvalidConfig)
	}
	if e.DBKey == "" {
		return fmt.Errorf("%w: db_key is required for endpoint %s", ErrInvalidConfig, e.EndpointName)
	}
	return nil
}

// ValidateTarget checks the image fields injected by the lookup step.
func (e EndpointConfig) ValidateTarget() error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch {
	case e.Bucket == "":
		return fmt.Errorf("%w: bucket is required for endpoint %s", ErrInvalidRecord, e.EndpointName)
	case e.ImagePath == "":
		return fmt.Errorf("%w: image_path is required for endpoint %s", ErrInvalidRecord, e.EndpointName)
	case e.ImageFilename == "":
		return fmt.Errorf("%w: image_filename is required for endpoint %s", ErrInvalidRecord, e.EndpointName)
	case e.TableName == "":
		return fmt.Errorf("%w: table_name is required for endpoint %s", ErrInvalidRecord, e.EndpointName)
	}
	return nil
}

// ParseEndpointConfigs decodes the stored endpoint configuration. Both the
// {"endpoints_config": [...]} document and a bare JSON array are accepted.
func ParseEndpointConfigs(raw string) ([]EndpointConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty endpoint configuration", ErrInvalidConfig)
	}

	var endpoints []EndpointConfig
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	} else {
		var doc struct {
			EndpointsConfig *[]EndpointConfig `json:"endpoints_config"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if doc.EndpointsConfig == nil {
			return nil, fmt.Errorf("%w: endpoints_config is missing", ErrInvalidConfig)
		}
		endpoints = *doc.EndpointsConfig
	}

	for _, ep := range endpoints {
		if err := ep.Validate(); err != nil {
			return nil, err
		}
	}
	return endpoints, nil
}

// DetectionEntry is one stored detection. Every value is kept as a string,
// matching the stored schema.
type DetectionEntry struct {
	ObjLabel     string   `json:"objLabel" dynamodbav:"objLabel"`
	ConfScore    string   `json:"confScore" dynamodbav:"confScore"`
	BoundBoxLTRB []string `json:"boundBoxLTRB" dynamodbav:"boundBoxLTRB"`
}

// Confidence parses the stored confidence score.
func (d DetectionEntry) Confidence() (float64, error) {
	v, err := strconv.ParseFloat(d.ConfScore, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: confScore %q", ErrInvalidRecord, d.ConfScore)
	}
	return v, nil
}

// Box parses the stored left, top, right, bottom fractional coordinates.
func (d DetectionEntry) Box() (left, top, right, bottom float64, err error) {
	if len(d.BoundBoxLTRB) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: boundBoxLTRB has %d values", ErrInvalidRecord, len(d.BoundBoxLTRB))
	}
	var vals [4]float64
	for i, s := range d.BoundBoxLTRB {
		vals[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("%w: boundBoxLTRB[%d] %q", ErrInvalidRecord, i, s)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

// ResultRecord is the persisted per-image row holding every endpoint's detections.
type ResultRecord struct {
	ImageName string
	Fields    map[string][]DetectionEntry
}

// RenderResult is returned by the label and render step
type RenderResult struct {
	StatusCode  int    `json:"statusCode"`
	Body        string `json:"body"`
	LabeledPath string `json:"labeled_path"`
	BoxesDrawn  int    `json:"boxes_drawn"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// Step names
const (
	StepIngest    = "ingest"
	StepResize    = "resize"
	StepLookup    = "lookup"
	StepInference = "inference"
	StepRender    = "render"
)

// Object key prefixes that mark the pipeline stage of an image.
const (
	ResizedPrefix = "resized_images/"
	LabeledPrefix = "labeled_images/"
)

// DefaultMaxDimension is the bounding size images are scaled down to.
const DefaultMaxDimension = 1000

// Parameter names read from the configuration store.
const (
	ParamTableName       = "table_name"
	ParamEndpointConfig  = "endpoint_config"
	ParamStateMachineARN = "state_machine_ARN"
	ParamQueueURL        = "SQS_URL"
)
