package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig holds Tencent Cloud Object Storage credentials
type COSConfig struct {
	SecretID  string
	SecretKey string
	Region    string

	// Endpoint overrides the bucket URL, for private or COS-compatible
	// endpoints. "{bucket}" in it is replaced with the bucket name.
	Endpoint string
}

// COSStorage implements Store on Tencent Cloud COS. A COS client is bound to
// one bucket, so clients are created lazily per bucket.
type COSStorage struct {
	cfg     COSConfig
	mu      sync.Mutex
	clients map[string]*cos.Client
}

// NewCOSStorage creates a new COS-backed object store
func NewCOSStorage(cfg COSConfig) *COSStorage {
	return &COSStorage{
		cfg:     cfg,
		clients: make(map[string]*cos.Client),
	}
}

func (s *COSStorage) client(bucket string) (*cos.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[bucket]; ok {
		return c, nil
	}

	u := cos.NewBucketURL(bucket, s.cfg.Region, true)
	if s.cfg.Endpoint != "" {
		var err error
		u, err = url.Parse(strings.ReplaceAll(s.cfg.Endpoint, "{bucket}", bucket))
		if err != nil {
			return nil, fmt.Errorf("invalid COS endpoint for bucket %q: %w", bucket, err)
		}
	}
	c := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  s.cfg.SecretID,
			SecretKey: s.cfg.SecretKey,
		},
	})
	s.clients[bucket] = c
	return c, nil
}

func isCOSNotFound(err error) bool {
	var cosErr *cos.ErrorResponse
	return errors.As(err, &cosErr) && cosErr.Response != nil && cosErr.Response.StatusCode == http.StatusNotFound
}

// GetObject returns a reader for the object at bucket/key
func (s *COSStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	c, err := s.client(bucket)
	if err != nil {
		return nil, err
	}

	resp, err := c.Object.Get(ctx, key, nil)
	if err != nil {
		if isCOSNotFound(err) {
			return nil, fmt.Errorf("%w: cos://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to download cos://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}

// Exists checks if an object exists at bucket/key
func (s *COSStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	c, err := s.client(bucket)
	if err != nil {
		return false, err
	}

	resp, err := c.Object.Head(ctx, key, nil)
	if err != nil {
		if isCOSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check cos://%s/%s: %w", bucket, key, err)
	}
	resp.Body.Close()
	return true, nil
}

// PutObject uploads the contents of r to bucket/key
func (s *COSStorage) PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	c, err := s.client(bucket)
	if err != nil {
		return err
	}

	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: contentType,
		},
	}
	resp, err := c.Object.Put(ctx, key, r, opt)
	if err != nil {
		return fmt.Errorf("failed to upload cos://%s/%s: %w", bucket, key, err)
	}
	resp.Body.Close()
	return nil
}
