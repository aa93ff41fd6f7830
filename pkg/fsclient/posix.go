package fsclient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// PosixClient drives a CephFS mounted by the kernel client or ceph-fuse.
type PosixClient struct {
	root string
}

// NewPosixClient returns a client for the filesystem mounted at mountPoint.
func NewPosixClient(mountPoint string) (*PosixClient, error) {
	var st unix.Stat_t
	if err := unix.Stat(mountPoint, &st); err != nil {
		return nil, fmt.Errorf("fsclient.NewPosixClient: stat %s: %w", mountPoint, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, fmt.Errorf("fsclient.NewPosixClient: %s is not a directory", mountPoint)
	}
	log.Debug().Str("component", "fsclient").Str("mount_point", mountPoint).Msg("posix client attached")
	return &PosixClient{root: mountPoint}, nil
}

// PosixDialer returns a Dialer for NewPosixClient.
func PosixDialer(mountPoint string) Dialer {
	return func(ctx context.Context) (Client, error) {
		return NewPosixClient(mountPoint)
	}
}

func (c *PosixClient) abs(path string) string {
	return filepath.Join(c.root, strings.TrimPrefix(path, "/"))
}

// Mkdir creates a directory.
func (c *PosixClient) Mkdir(path string, mode os.FileMode) error {
	return unix.Mkdir(c.abs(path), uint32(mode.Perm()))
}

// Create creates a regular file and closes it.
func (c *PosixClient) Create(path string, mode os.FileMode) error {
	fd, err := unix.Open(c.abs(path), unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, uint32(mode.Perm()))
	if err != nil {
		return err
	}
	return unix.Close(fd)
}

// Stat returns the inode of path.
func (c *PosixClient) Stat(path string) (InodeID, error) {
	var st unix.Stat_t
	if err := unix.Stat(c.abs(path), &st); err != nil {
		if err == unix.ENOENT {
			return 0, &NotFoundError{Path: path}
		}
		return 0, err
	}
	return InodeID(st.Ino), nil
}

// Unlink removes a file.
func (c *PosixClient) Unlink(path string) error {
	return unix.Unlink(c.abs(path))
}

// Close flushes dirty state to the servers. The mount itself stays up.
func (c *PosixClient) Close() error {
	unix.Sync()
	return nil
}
