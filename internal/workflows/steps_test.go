package workflows

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/tendant/image-inference-pipeline/internal/detections"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

const endpointConfig = `{"endpoints_config": [
  {"ep_name": "animals-ep", "db_key": "animals", "labels": ["cat", "dog"], "threshold": 0.5},
  {"endpoint_name": "vehicles-ep", "db_key": "vehicles", "labels": ["car"], "threshold": "0.8"}
]}`

// three detections: the last one is never stored
const animalsResponse = `{"predictions": [{
  "detection_boxes": [[0.1, 0.2, 0.6, 0.8], [0.0, 0.0, 0.5, 0.5], [0.3, 0.3, 0.4, 0.4]],
  "detection_classes": [1.0, 2.0, 1.0],
  "detection_scores": [0.95, 0.3, 0.2]
}]}`

const vehiclesResponse = `{"predictions": [{
  "detection_boxes": [[0.5, 0.5, 0.9, 0.9], [0.1, 0.1, 0.2, 0.2]],
  "detection_classes": [1.0, 1.0],
  "detection_scores": [0.85, 0.1]
}]}`

func TestResizeStep(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "uploads/wide.jpg", 2000, 1000)
	step := NewResizeStep(store, store, 0)

	rec, err := step.Execute(context.Background(), "run-1", pipeline.NewRecord("photos", "uploads/wide.jpg"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.ImagePath != "resized_images/wide.jpg" {
		t.Errorf("Expected resized path, got %q", rec.ImagePath)
	}

	img := store.decode(t, "photos", "resized_images/wide.jpg")
	if b := img.Bounds(); b.Dx() != 1000 || b.Dy() != 500 {
		t.Errorf("Expected 1000x500, got %dx%d", b.Dx(), b.Dy())
	}
	if store.types["photos/resized_images/wide.jpg"] != "image/jpeg" {
		t.Errorf("Unexpected content type %q", store.types["photos/resized_images/wide.jpg"])
	}
}

func TestResizeStep_SmallImageStillUploaded(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "small.jpg", 300, 200)
	step := NewResizeStep(store, store, 1000)

	if _, err := step.Execute(context.Background(), "run-1", pipeline.NewRecord("photos", "small.jpg")); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	img := store.decode(t, "photos", "resized_images/small.jpg")
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("Expected unchanged 300x200, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestResizeStep_Errors(t *testing.T) {
	store := newMemObjects()
	step := NewResizeStep(store, store, 1000)

	_, err := step.Execute(context.Background(), "run-1", pipeline.NewRecord("photos", "missing.jpg"))
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("Expected ErrSourceNotFound, got %v", err)
	}

	_, err = step.Execute(context.Background(), "run-1", pipeline.Record{ImagePath: "a.jpg", ImageFilename: "a.jpg"})
	if !errors.Is(err, pipeline.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord, got %v", err)
	}
}

func TestLookupStep(t *testing.T) {
	params := mapParams{
		pipeline.ParamTableName:      "results",
		pipeline.ParamEndpointConfig: endpointConfig,
	}
	step := NewLookupStep(params)

	in := pipeline.NewRecord("photos", "uploads/cat.jpg")
	in.ImagePath = "resized_images/cat.jpg"

	rec, err := step.Execute(context.Background(), "run-1", in)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rec.TableName != "results" {
		t.Errorf("Expected table results, got %q", rec.TableName)
	}
	if len(rec.Endpoints) != 2 {
		t.Fatalf("Expected 2 endpoints, got %d", len(rec.Endpoints))
	}

	for _, ep := range rec.Endpoints {
		if ep.Bucket != "photos" || ep.ImagePath != "resized_images/cat.jpg" || ep.ImageFilename != "cat.jpg" || ep.TableName != "results" {
			t.Errorf("Endpoint %s missing injected fields: %+v", ep.EndpointName, ep)
		}
	}
	if rec.Endpoints[1].EndpointName != "vehicles-ep" || float64(rec.Endpoints[1].Threshold) != 0.8 {
		t.Errorf("Unexpected second endpoint %+v", rec.Endpoints[1])
	}
}

func TestLookupStep_Errors(t *testing.T) {
	rec := pipeline.NewRecord("photos", "cat.jpg")

	tests := []struct {
		name   string
		params mapParams
		want   error
	}{
		{"missing table", mapParams{pipeline.ParamEndpointConfig: endpointConfig}, ErrMissingParameter},
		{"missing config", mapParams{pipeline.ParamTableName: "results"}, ErrMissingParameter},
		{"malformed config", mapParams{pipeline.ParamTableName: "results", pipeline.ParamEndpointConfig: "{"}, pipeline.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLookupStep(tt.params).Execute(context.Background(), "run-1", rec)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func animalsEndpoint() pipeline.EndpointConfig {
	return pipeline.EndpointConfig{
		EndpointName:  "animals-ep",
		DBKey:         "animals",
		Labels:        []string{"cat", "dog"},
		Threshold:     0.5,
		Bucket:        "photos",
		ImagePath:     "resized_images/cat.jpg",
		ImageFilename: "cat.jpg",
		TableName:     "results",
	}
}

func TestInferenceStep(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 4, 3)
	results := newMemResults()
	invoker := &fakeInvoker{responses: map[string]string{"animals-ep": animalsResponse}}
	step := NewInferenceStep(store, invoker, results)

	ep := animalsEndpoint()
	out, err := step.Execute(context.Background(), "run-1", ep)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.DBKey != ep.DBKey || out.EndpointName != ep.EndpointName {
		t.Errorf("Expected endpoint config to be returned unchanged, got %+v", out)
	}

	if !strings.HasPrefix(string(invoker.bodies["animals-ep"]), `{"instances":[[[[`) {
		t.Errorf("Unexpected request body prefix %.40s", invoker.bodies["animals-ep"])
	}

	rec, err := results.GetRecord(context.Background(), "results", "cat")
	if err != nil {
		t.Fatalf("Expected stored record: %v", err)
	}
	entries := rec.Fields["animals"]
	if len(entries) != 2 {
		t.Fatalf("Expected 2 of 3 detections stored, got %d", len(entries))
	}
	if entries[0].ObjLabel != "cat" || entries[1].ObjLabel != "dog" {
		t.Errorf("Unexpected labels %q, %q", entries[0].ObjLabel, entries[1].ObjLabel)
	}
	want := []string{"0.2", "0.1", "0.8", "0.6"}
	for i, v := range want {
		if entries[0].BoundBoxLTRB[i] != v {
			t.Errorf("Box[%d]: expected %s, got %s", i, v, entries[0].BoundBoxLTRB[i])
		}
	}
	if entries[1].ConfScore != "0.3" {
		t.Errorf("Expected low score to be stored unfiltered, got %q", entries[1].ConfScore)
	}
}

func TestInferenceStep_Errors(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 4, 3)

	t.Run("endpoint failure", func(t *testing.T) {
		step := NewInferenceStep(store, &fakeInvoker{}, newMemResults())
		if _, err := step.Execute(context.Background(), "run-1", animalsEndpoint()); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("malformed response", func(t *testing.T) {
		invoker := &fakeInvoker{responses: map[string]string{"animals-ep": `{"outputs": []}`}}
		step := NewInferenceStep(store, invoker, newMemResults())
		_, err := step.Execute(context.Background(), "run-1", animalsEndpoint())
		if !errors.Is(err, detections.ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("unknown class", func(t *testing.T) {
		ep := animalsEndpoint()
		ep.Labels = []string{"cat"}
		invoker := &fakeInvoker{responses: map[string]string{"animals-ep": animalsResponse}}
		step := NewInferenceStep(store, invoker, newMemResults())
		_, err := step.Execute(context.Background(), "run-1", ep)
		if !errors.Is(err, detections.ErrUnknownClass) {
			t.Errorf("Expected ErrUnknownClass, got %v", err)
		}
	})

	t.Run("missing target", func(t *testing.T) {
		ep := animalsEndpoint()
		ep.TableName = ""
		step := NewInferenceStep(store, &fakeInvoker{}, newMemResults())
		_, err := step.Execute(context.Background(), "run-1", ep)
		if !errors.Is(err, pipeline.ErrInvalidRecord) {
			t.Errorf("Expected ErrInvalidRecord, got %v", err)
		}
	})
}

func TestRenderStep(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 200, 100)
	results := newMemResults()
	results.PutResults(context.Background(), "results", "cat", "animals", []pipeline.DetectionEntry{
		{ObjLabel: "cat", ConfScore: "0.95", BoundBoxLTRB: []string{"0.1", "0.1", "0.5", "0.5"}},
		{ObjLabel: "dog", ConfScore: "0.3", BoundBoxLTRB: []string{"0.6", "0.6", "0.9", "0.9"}},
		{ObjLabel: "cat", ConfScore: "1.0", BoundBoxLTRB: []string{"0.0", "0.0", "1.0", "1.0"}},
	})
	step := NewRenderStep(store, store, results)

	res, err := step.Execute(context.Background(), "run-1", []pipeline.EndpointConfig{animalsEndpoint()})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.StatusCode != 200 || res.Body != `"Image processing finished!"` {
		t.Errorf("Unexpected result %+v", res)
	}
	if res.BoxesDrawn != 2 {
		t.Errorf("Expected 2 boxes above threshold 0.5, got %d", res.BoxesDrawn)
	}
	if res.LabeledPath != "labeled_images/cat.jpg" {
		t.Errorf("Unexpected labeled path %q", res.LabeledPath)
	}

	img := store.decode(t, "photos", "labeled_images/cat.jpg")
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("Expected labeled image to keep 200x100, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRenderStep_FullConfidenceUsesTopColor(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 200, 100)
	results := newMemResults()
	results.PutResults(context.Background(), "results", "cat", "animals", []pipeline.DetectionEntry{
		{ObjLabel: "cat", ConfScore: "1.0", BoundBoxLTRB: []string{"0.2", "0.2", "0.8", "0.8"}},
	})
	step := NewRenderStep(store, store, results)

	if _, err := step.Execute(context.Background(), "run-1", []pipeline.EndpointConfig{animalsEndpoint()}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The left outline spans x=38..40 and y=18..82; sample inside it and away
	// from the label text.
	img := store.decode(t, "photos", "labeled_images/cat.jpg")
	for _, pt := range []image.Point{{39, 50}, {161, 50}} {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		r, g, b = r>>8, g>>8, b>>8
		if g < r+60 || g < b+60 {
			t.Errorf("Expected palette color 10 (green) at %v, got rgb(%d,%d,%d)", pt, r, g, b)
		}
	}
}

func TestRenderStep_ThresholdOnlyAtRender(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 20, 20)
	results := newMemResults()
	results.PutResults(context.Background(), "results", "cat", "animals", []pipeline.DetectionEntry{
		{ObjLabel: "dog", ConfScore: "0.3", BoundBoxLTRB: []string{"0.1", "0.1", "0.5", "0.5"}},
	})
	step := NewRenderStep(store, store, results)

	ep := animalsEndpoint()
	ep.Threshold = 0.9
	res, err := step.Execute(context.Background(), "run-1", []pipeline.EndpointConfig{ep})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.BoxesDrawn != 0 {
		t.Errorf("Expected stored detection below threshold to be skipped, drew %d", res.BoxesDrawn)
	}

	rec, _ := results.GetRecord(context.Background(), "results", "cat")
	if len(rec.Fields["animals"]) != 1 {
		t.Errorf("Expected detection to remain stored")
	}
}

func TestRenderStep_Errors(t *testing.T) {
	store := newMemObjects()
	putJPEG(t, store, "photos", "resized_images/cat.jpg", 20, 20)
	results := newMemResults()
	results.PutResults(context.Background(), "results", "cat", "vehicles", nil)
	step := NewRenderStep(store, store, results)

	if _, err := step.Execute(context.Background(), "run-1", nil); !errors.Is(err, pipeline.ErrInvalidRecord) {
		t.Errorf("Expected ErrInvalidRecord for empty input, got %v", err)
	}

	if _, err := step.Execute(context.Background(), "run-1", []pipeline.EndpointConfig{animalsEndpoint()}); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("Expected ErrFieldNotFound, got %v", err)
	}

	ep := animalsEndpoint()
	ep.ImageFilename = "other.jpg"
	ep.ImagePath = "resized_images/cat.jpg"
	if _, err := step.Execute(context.Background(), "run-1", []pipeline.EndpointConfig{ep}); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func s3Message(id, receipt, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: id, ReceiptHandle: receipt, Body: body}
}

const catNotification = `{"Records":[{"s3":{"bucket":{"name":"photos"},"object":{"key":"uploads/cat.jpg"}}}]}`
const dogNotification = `{"Records":[{"s3":{"bucket":{"name":"photos"},"object":{"key":"uploads/dog.jpg"}}}]}`

func TestIngestStep(t *testing.T) {
	params := mapParams{pipeline.ParamQueueURL: "https://sqs/queue"}
	starter := &fakeStarter{}
	acker := &fakeAcker{}
	dedupe := &fakeDedupe{seen: map[string]int{}}
	step := NewIngestStep(params, starter, acker, dedupe)

	event := events.SQSEvent{Records: []events.SQSMessage{
		s3Message("m1", "r1", catNotification),
		s3Message("m2", "r2", `{"Service":"Amazon S3","Event":"s3:TestEvent"}`),
		s3Message("m3", "r3", catNotification),
	}}

	res, err := step.Execute(context.Background(), "run-1", event)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(starter.started) != 2 {
		t.Fatalf("Expected 2 starts, got %d", len(starter.started))
	}
	if got := starter.started[0]; got.Bucket != "photos" || got.ImagePath != "uploads/cat.jpg" || got.ImageFilename != "cat.jpg" {
		t.Errorf("Unexpected started record %+v", got)
	}
	if strings.Join(acker.deleted, ",") != "r1,r2,r3" || acker.queue != "https://sqs/queue" {
		t.Errorf("Unexpected deletes %v on %s", acker.deleted, acker.queue)
	}
	if res.Acked != 2 || res.Skipped != 1 {
		t.Errorf("Unexpected counts %+v", res)
	}
	if res.Started[1].SeenCount != 2 {
		t.Errorf("Expected second submission of cat.jpg to be counted, got %d", res.Started[1].SeenCount)
	}
}

func TestIngestStep_StartFailureKeepsMessage(t *testing.T) {
	params := mapParams{pipeline.ParamQueueURL: "https://sqs/queue"}
	starter := &fakeStarter{failOn: "dog.jpg"}
	acker := &fakeAcker{}
	step := NewIngestStep(params, starter, acker, nil)

	event := events.SQSEvent{Records: []events.SQSMessage{
		s3Message("m1", "r1", catNotification),
		s3Message("m2", "r2", dogNotification),
	}}

	if _, err := step.Execute(context.Background(), "run-1", event); err == nil {
		t.Fatal("Expected start failure to be returned")
	}
	if strings.Join(acker.deleted, ",") != "r1" {
		t.Errorf("Expected only the successful message to be deleted, got %v", acker.deleted)
	}
}

func TestIngestStep_MissingQueueURL(t *testing.T) {
	step := NewIngestStep(mapParams{}, &fakeStarter{}, &fakeAcker{}, nil)
	_, err := step.Execute(context.Background(), "run-1", events.SQSEvent{})
	if !errors.Is(err, ErrMissingParameter) {
		t.Errorf("Expected ErrMissingParameter, got %v", err)
	}
}
