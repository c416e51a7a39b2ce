package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestFilesystemStorage_PutGet(t *testing.T) {
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := fs.PutObject(ctx, "bucket", "resized_images/a.jpg", strings.NewReader("data"), "image/jpeg"); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}

	exists, err := fs.Exists(ctx, "bucket", "resized_images/a.jpg")
	if err != nil || !exists {
		t.Fatalf("Expected object to exist, got %v, %v", exists, err)
	}

	r, err := fs.GetObject(ctx, "bucket", "resized_images/a.jpg")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "data" {
		t.Errorf("Expected data, got %q", data)
	}
}

func TestFilesystemStorage_Missing(t *testing.T) {
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	exists, err := fs.Exists(ctx, "bucket", "missing.jpg")
	if err != nil || exists {
		t.Errorf("Expected missing object, got %v, %v", exists, err)
	}

	if _, err := fs.GetObject(ctx, "bucket", "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemStorage_PathTraversal(t *testing.T) {
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	if _, err := fs.GetObject(ctx, "bucket", "../../etc/passwd"); err == nil {
		t.Error("Expected traversal to be rejected")
	}
	if err := fs.PutObject(ctx, "..", "../escape.txt", strings.NewReader("x"), ""); err == nil {
		t.Error("Expected traversal to be rejected on write")
	}
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := *in.Bucket + "/" + *in.Key
	f.objects[key] = data
	if in.ContentType != nil {
		f.types[key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Storage(t *testing.T) {
	api := newFakeS3()
	store := NewS3Storage(api)
	ctx := context.Background()

	if err := store.PutObject(ctx, "images", "labeled_images/a.jpg", strings.NewReader("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if api.types["images/labeled_images/a.jpg"] != "image/jpeg" {
		t.Errorf("Expected content type to be forwarded")
	}

	exists, err := store.Exists(ctx, "images", "labeled_images/a.jpg")
	if err != nil || !exists {
		t.Errorf("Expected object to exist, got %v, %v", exists, err)
	}
	exists, err = store.Exists(ctx, "images", "nope.jpg")
	if err != nil || exists {
		t.Errorf("Expected missing object, got %v, %v", exists, err)
	}

	if _, err := store.GetObject(ctx, "images", "nope.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
