// Package backend stores harness artifacts on any rclone remote.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when an object or directory does not exist.
var ErrNotFound = errors.New("not found")

// ObjectInfo describes a remote object or directory.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Backend abstracts a remote storage system.
type Backend interface {
	// Name returns the configured name of this backend.
	Name() string

	// Type returns the backend type (e.g. "s3", "local").
	Type() string

	// List returns the direct children of dir.
	List(ctx context.Context, dir string) ([]ObjectInfo, error)

	// Open returns a reader for the entire object.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Write writes data to the given path. Creates or overwrites.
	Write(ctx context.Context, path string, r io.Reader, size int64) error

	// Delete removes an object.
	Delete(ctx context.Context, path string) error

	// Close releases resources held by this backend.
	Close() error
}

// Put writes data to path on b.
func Put(ctx context.Context, b Backend, path string, data []byte) error {
	return b.Write(ctx, path, bytes.NewReader(data), int64(len(data)))
}

// Get reads the whole object at path from b.
func Get(ctx context.Context, b Backend, path string) ([]byte, error) {
	rc, err := b.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("backend %s: read %q: %w", b.Name(), path, err)
	}
	return data, nil
}
