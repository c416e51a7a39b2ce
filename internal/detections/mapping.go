package detections

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

var (
	// ErrMalformedResponse is returned when the endpoint response does not have the expected shape
	ErrMalformedResponse = errors.New("malformed inference response")

	// ErrUnknownClass is returned when a detection class has no configured label
	ErrUnknownClass = errors.New("detection class has no label")
)

// Prediction is the first element of the endpoint's "predictions" array.
type Prediction struct {
	DetectionBoxes   [][]float64 `json:"detection_boxes"`
	DetectionClasses []float64   `json:"detection_classes"`
	DetectionScores  []float64   `json:"detection_scores"`
}

// ParseResponse decodes an endpoint response body and returns its first prediction.
func ParseResponse(body []byte) (*Prediction, error) {
	var resp struct {
		Predictions []Prediction `json:"predictions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("%w: no predictions", ErrMalformedResponse)
	}
	return &resp.Predictions[0], nil
}

// CategoryIndex maps 1-based class ids to configured labels.
func CategoryIndex(labels []string) map[int]string {
	index := make(map[int]string, len(labels))
	for i, label := range labels {
		index[i+1] = label
	}
	return index
}

// MapDetections converts a prediction into stored detection entries.
//
// Boxes arrive as top, left, bottom, right and are stored as left, top,
// right, bottom. The loop stops one short of the number of scores, so the
// last detection is never stored. No threshold is applied here.
func MapDetections(pred *Prediction, labels []string) ([]pipeline.DetectionEntry, error) {
	index := CategoryIndex(labels)
	n := len(pred.DetectionScores)

	results := make([]pipeline.DetectionEntry, 0, max(n-1, 0))
	for i := 0; i < n-1; i++ {
		if i >= len(pred.DetectionClasses) || i >= len(pred.DetectionBoxes) {
			return nil, fmt.Errorf("%w: detection %d has no class or box", ErrMalformedResponse, i)
		}
		class := int(pred.DetectionClasses[i])
		label, ok := index[class]
		if !ok {
			return nil, fmt.Errorf("%w: class %d", ErrUnknownClass, class)
		}
		box := pred.DetectionBoxes[i]
		if len(box) != 4 {
			return nil, fmt.Errorf("%w: detection %d box has %d values", ErrMalformedResponse, i, len(box))
		}
		top, left, bottom, right := box[0], box[1], box[2], box[3]

		results = append(results, pipeline.DetectionEntry{
			ObjLabel:  label,
			ConfScore: FormatFloat(pred.DetectionScores[i]),
			BoundBoxLTRB: []string{
				FormatFloat(left),
				FormatFloat(top),
				FormatFloat(right),
				FormatFloat(bottom),
			},
		})
	}
	return results, nil
}
