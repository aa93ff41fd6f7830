package objstore

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/metrics"
)

// ArchiveStore reads attributes captured earlier into an artifact backend,
// laid out as <prefix>/<object>/<attr>.
type ArchiveStore struct {
	b      backend.Backend
	prefix string
}

// NewArchiveStore returns a store over b rooted at prefix.
func NewArchiveStore(b backend.Backend, prefix string) *ArchiveStore {
	return &ArchiveStore{b: b, prefix: prefix}
}

// AttrPath returns where the attribute of object is kept under prefix.
func AttrPath(prefix, object, name string) string {
	return path.Join(prefix, object, name)
}

func (s *ArchiveStore) Type() string { return "archive" }

// GetXattr reads the captured attribute.
func (s *ArchiveStore) GetXattr(ctx context.Context, object, name string) ([]byte, error) {
	data, err := backend.Get(ctx, s.b, AttrPath(s.prefix, object, name))
	if err != nil {
		metrics.StoreReads.WithLabelValues(s.Type(), "error").Inc()
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("objstore: archive %s %s: %w", object, name, ErrNotFound)
		}
		return nil, fmt.Errorf("objstore: archive %s %s: %w", object, name, err)
	}
	metrics.StoreReads.WithLabelValues(s.Type(), "ok").Inc()
	return data, nil
}

// Close closes the underlying backend.
func (s *ArchiveStore) Close() error { return s.b.Close() }
