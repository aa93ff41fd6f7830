// Package objstore reads extended attributes of RADOS objects.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the object or the attribute does not exist.
var ErrNotFound = errors.New("not found")

// ParentAttr is the xattr holding an inode's encoded backtrace.
const ParentAttr = "parent"

// Store reads object extended attributes.
type Store interface {
	// Type names the implementation, for logs and metrics.
	Type() string
	GetXattr(ctx context.Context, object, name string) ([]byte, error)
	Close() error
}

// ObjectName returns the name of the first object of inode ino: the inode in
// lowercase hex followed by the zero-padded stripe index.
func ObjectName(ino uint64) string {
	return fmt.Sprintf("%x.%08x", ino, 0)
}
