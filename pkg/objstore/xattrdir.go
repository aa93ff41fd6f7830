package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/xattr"

	"github.com/fsprobe/btcheck/pkg/metrics"
)

// XattrDirStore reads attributes from a directory holding one file per
// object, with object xattrs stored as filesystem xattrs. This is the layout
// ceph-objectstore-tool exports and FileStore OSDs keep on disk.
type XattrDirStore struct {
	dir    string
	prefix string
}

// NewXattrDirStore returns a store rooted at dir. prefix is prepended to
// attribute names ("user." on Linux, "user.ceph._" for raw FileStore dirs).
func NewXattrDirStore(dir, prefix string) (*XattrDirStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("objstore.NewXattrDirStore: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("objstore.NewXattrDirStore: %s is not a directory", dir)
	}
	return &XattrDirStore{dir: dir, prefix: prefix}, nil
}

func (s *XattrDirStore) Type() string { return "xattr-dir" }

// GetXattr reads <dir>/<object> attribute <prefix><name>.
func (s *XattrDirStore) GetXattr(ctx context.Context, object, name string) ([]byte, error) {
	p := filepath.Join(s.dir, object)
	data, err := xattr.Get(p, s.prefix+name)
	if err != nil {
		metrics.StoreReads.WithLabelValues(s.Type(), "error").Inc()
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, xattr.ENOATTR) {
			return nil, fmt.Errorf("objstore: getxattr %s %s: %w", p, name, ErrNotFound)
		}
		return nil, fmt.Errorf("objstore: getxattr %s %s: %w", p, name, err)
	}
	metrics.StoreReads.WithLabelValues(s.Type(), "ok").Inc()
	return data, nil
}

// Close is a no-op.
func (s *XattrDirStore) Close() error { return nil }
