package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no object %s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket+"/"+key]
	return ok, nil
}

func (m *memObjects) PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *memObjects) decode(t *testing.T, bucket, key string) image.Image {
	t.Helper()
	m.mu.Lock()
	data, ok := m.objects[bucket+"/"+key]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("Expected object %s/%s to exist", bucket, key)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode %s/%s: %v", bucket, key, err)
	}
	return img
}

func putJPEG(t *testing.T, store *memObjects, bucket, key string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	if err := store.PutObject(context.Background(), bucket, key, &buf, "image/jpeg"); err != nil {
		t.Fatalf("Failed to store test image: %v", err)
	}
}

type memResults struct {
	mu   sync.Mutex
	rows map[string]map[string][]pipeline.DetectionEntry
}

func newMemResults() *memResults {
	return &memResults{rows: map[string]map[string][]pipeline.DetectionEntry{}}
}

func (m *memResults) PutResults(ctx context.Context, table, imageName, field string, entries []pipeline.DetectionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table + "/" + imageName
	if m.rows[key] == nil {
		m.rows[key] = map[string][]pipeline.DetectionEntry{}
	}
	m.rows[key][field] = entries
	return nil
}

func (m *memResults) GetRecord(ctx context.Context, table, imageName string) (*pipeline.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[table+"/"+imageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrRecordNotFound, imageName)
	}
	fields := make(map[string][]pipeline.DetectionEntry, len(row))
	for k, v := range row {
		fields[k] = v
	}
	return &pipeline.ResultRecord{ImageName: imageName, Fields: fields}, nil
}

type mapParams map[string]string

func (p mapParams) GetParameter(ctx context.Context, name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", pipeline.ErrMissingParameter, name)
	}
	return v, nil
}

type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string]string
	bodies    map[string][]byte
}

func (f *fakeInvoker) Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string][]byte{}
	}
	f.bodies[endpoint] = body
	resp, ok := f.responses[endpoint]
	if !ok {
		return nil, errors.New("endpoint not deployed")
	}
	return []byte(resp), nil
}

type fakeStarter struct {
	started []pipeline.Record
	failOn  string
}

func (f *fakeStarter) Start(ctx context.Context, rec pipeline.Record) (string, error) {
	if f.failOn != "" && rec.ImageFilename == f.failOn {
		return "", errors.New("throttled")
	}
	f.started = append(f.started, rec)
	return fmt.Sprintf("exec-%d", len(f.started)), nil
}

type fakeAcker struct {
	deleted []string
	queue   string
}

func (f *fakeAcker) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	f.queue = queueURL
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type fakeDedupe struct {
	seen map[string]int
}

func (f *fakeDedupe) Record(ctx context.Context, key string, pipelineName string, pipelineVersion int) (int, error) {
	f.seen[key]++
	return f.seen[key], nil
}
