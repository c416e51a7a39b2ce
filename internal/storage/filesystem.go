package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStorage implements Store on the local filesystem. Buckets are
// directories under baseDir.
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a new filesystem object store
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemStorage{
		baseDir: baseDir,
	}, nil
}

// resolve maps bucket/key to a path, rejecting anything outside baseDir.
func (fs *FilesystemStorage) resolve(bucket, key string) (string, error) {
	base := filepath.Clean(fs.baseDir)
	path := filepath.Clean(filepath.Join(base, bucket, key))

	// Security: prevent directory traversal
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}
	return path, nil
}

// GetObject returns a reader for the file at bucket/key
func (fs *FilesystemStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Exists checks if a file exists at bucket/key
func (fs *FilesystemStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := fs.resolve(bucket, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return !info.IsDir(), nil
}

// PutObject writes r to bucket/key, creating parent directories as needed
func (fs *FilesystemStorage) PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	path, err := fs.resolve(bucket, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
