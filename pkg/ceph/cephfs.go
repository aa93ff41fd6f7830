// Package ceph binds the harness interfaces to libcephfs and librados.
package ceph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/ceph/go-ceph/cephfs"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/fsclient"
)

// CephFSClient talks to the metadata server directly through libcephfs.
type CephFSClient struct {
	mount *cephfs.MountInfo
}

var _ fsclient.Client = (*CephFSClient)(nil)

// NewCephFSClient creates and mounts a libcephfs client. An empty confFile
// uses the default ceph.conf search path.
func NewCephFSClient(confFile string) (*CephFSClient, error) {
	mount, err := cephfs.CreateMount()
	if err != nil {
		return nil, fmt.Errorf("ceph.NewCephFSClient: create mount: %w", err)
	}
	if confFile != "" {
		err = mount.ReadConfigFile(confFile)
	} else {
		err = mount.ReadDefaultConfigFile()
	}
	if err != nil {
		mount.Release()
		return nil, fmt.Errorf("ceph.NewCephFSClient: read config %q: %w", confFile, err)
	}
	if err := mount.Mount(); err != nil {
		mount.Release()
		return nil, fmt.Errorf("ceph.NewCephFSClient: mount: %w", err)
	}
	log.Debug().Str("component", "ceph").Str("conf", confFile).Msg("libcephfs mounted")
	return &CephFSClient{mount: mount}, nil
}

// CephFSDialer returns a Dialer for NewCephFSClient.
func CephFSDialer(confFile string) fsclient.Dialer {
	return func(ctx context.Context) (fsclient.Client, error) {
		return NewCephFSClient(confFile)
	}
}

// Mkdir creates a directory.
func (c *CephFSClient) Mkdir(path string, mode os.FileMode) error {
	return c.mount.MakeDir(path, uint32(mode.Perm()))
}

// Create creates a regular file and closes it.
func (c *CephFSClient) Create(path string, mode os.FileMode) error {
	f, err := c.mount.Open(path, os.O_CREATE|os.O_RDWR, uint32(mode.Perm()))
	if err != nil {
		return err
	}
	return f.Close()
}

// Stat returns the inode of path.
func (c *CephFSClient) Stat(path string) (fsclient.InodeID, error) {
	sx, err := c.mount.Statx(path, cephfs.StatxIno, cephfs.AtFlags(0))
	if err != nil {
		if hasErrno(err, syscall.ENOENT) {
			return 0, &fsclient.NotFoundError{Path: path}
		}
		return 0, err
	}
	return fsclient.InodeID(sx.Inode), nil
}

// Unlink removes a file.
func (c *CephFSClient) Unlink(path string) error {
	return c.mount.Unlink(path)
}

// Close unmounts and releases the libcephfs handle, dropping every cap the
// client held.
func (c *CephFSClient) Close() error {
	var errs []error
	if err := c.mount.Unmount(); err != nil {
		errs = append(errs, fmt.Errorf("unmount: %w", err))
	}
	if err := c.mount.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("ceph: close cephfs: %w", errors.Join(errs...))
	}
	return nil
}

// hasErrno reports whether a go-ceph error carries errno. go-ceph reports
// negated errno values.
func hasErrno(err error, errno syscall.Errno) bool {
	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		code := coded.ErrorCode()
		return code == -int(errno) || code == int(errno)
	}
	return errors.Is(err, errno)
}
