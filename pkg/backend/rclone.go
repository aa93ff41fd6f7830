package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	// Register rclone backends via blank imports.
	_ "github.com/rclone/rclone/backend/azureblob"
	_ "github.com/rclone/rclone/backend/googlecloudstorage"
	_ "github.com/rclone/rclone/backend/local"
	_ "github.com/rclone/rclone/backend/s3"
	_ "github.com/rclone/rclone/backend/sftp"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/rclone/rclone/fs/object"

	"github.com/fsprobe/btcheck/pkg/config"
)

// RcloneBackend wraps an rclone fs.Fs as a Backend.
type RcloneBackend struct {
	name     string
	backType string
	rfs      fs.Fs
}

// NewRcloneBackend creates a backend.
// backendType is the rclone backend name (e.g. "s3", "local").
// remotePath is the bucket/container + optional prefix.
// params maps rclone config keys to values.
func NewRcloneBackend(ctx context.Context, name, backendType, remotePath string, params map[string]string) (*RcloneBackend, error) {
	regInfo, err := fs.Find(backendType)
	if err != nil {
		return nil, fmt.Errorf("backend.NewRcloneBackend: unknown type %q: %w", backendType, err)
	}

	rfs, err := regInfo.NewFs(ctx, name, remotePath, configmap.Simple(params))
	if err != nil && !errors.Is(err, fs.ErrorIsFile) {
		return nil, fmt.Errorf("backend.NewRcloneBackend: create %q (%s): %w", name, backendType, err)
	}

	log.Debug().Str("component", "backend").Str("name", name).
		Str("type", backendType).Str("path", remotePath).Msg("backend created")

	return &RcloneBackend{name: name, backType: backendType, rfs: rfs}, nil
}

// FromConfig creates a backend from an artifacts or archive section.
func FromConfig(ctx context.Context, cfg config.BackendConfig) (*RcloneBackend, error) {
	params := cfg.Config
	if params == nil {
		params = map[string]string{}
	}
	return NewRcloneBackend(ctx, cfg.Name, cfg.Type, cfg.Root, params)
}

func (b *RcloneBackend) Name() string { return b.name }
func (b *RcloneBackend) Type() string { return b.backType }

// List returns the direct children of dir. Paths are relative to dir.
func (b *RcloneBackend) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	entries, err := b.rfs.List(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrorDirNotFound) {
			return nil, fmt.Errorf("backend %s: List %q: %w", b.name, dir, ErrNotFound)
		}
		return nil, fmt.Errorf("backend %s: List %q: %w", b.name, dir, err)
	}

	result := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		oi := ObjectInfo{
			Path:    strings.TrimPrefix(strings.TrimPrefix(entry.Remote(), dir), "/"),
			ModTime: entry.ModTime(ctx),
			Size:    entry.Size(),
		}
		if _, ok := entry.(fs.Directory); ok {
			oi.IsDir = true
		}
		result = append(result, oi)
	}
	return result, nil
}

// Open returns a reader for the entire object.
func (b *RcloneBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := b.rfs.NewObject(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrorObjectNotFound) {
			return nil, fmt.Errorf("backend %s: Open %q: %w", b.name, p, ErrNotFound)
		}
		return nil, fmt.Errorf("backend %s: Open %q: %w", b.name, p, err)
	}

	rc, err := obj.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend %s: Open %q: %w", b.name, p, err)
	}
	return rc, nil
}

// Write writes data to the given path, creating parent directories as the
// remote requires.
func (b *RcloneBackend) Write(ctx context.Context, p string, r io.Reader, size int64) error {
	if dir := path.Dir(p); dir != "." {
		if err := b.rfs.Mkdir(ctx, dir); err != nil {
			return fmt.Errorf("backend %s: Mkdir %q: %w", b.name, dir, err)
		}
	}
	info := object.NewStaticObjectInfo(p, time.Now(), size, true, nil, nil)
	if _, err := b.rfs.Put(ctx, r, info); err != nil {
		return fmt.Errorf("backend %s: Write %q: %w", b.name, p, err)
	}
	return nil
}

// Delete removes an object.
func (b *RcloneBackend) Delete(ctx context.Context, p string) error {
	obj, err := b.rfs.NewObject(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrorObjectNotFound) {
			return fmt.Errorf("backend %s: Delete %q: %w", b.name, p, ErrNotFound)
		}
		return fmt.Errorf("backend %s: Delete %q: %w", b.name, p, err)
	}
	if err := obj.Remove(ctx); err != nil {
		return fmt.Errorf("backend %s: Delete %q: %w", b.name, p, err)
	}
	return nil
}

// Close releases resources.
func (b *RcloneBackend) Close() error {
	log.Debug().Str("component", "backend").Str("name", b.name).Msg("backend closed")
	return nil
}
