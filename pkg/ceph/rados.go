package ceph

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/ceph/go-ceph/rados"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/objstore"
)

// initialXattrBuf covers a backtrace several dozen levels deep; GetXattr
// retries with a larger buffer on ERANGE.
const (
	initialXattrBuf = 4096
	maxXattrBuf     = 1 << 20
)

// RadosStore reads object xattrs through librados.
type RadosStore struct {
	conn  *rados.Conn
	ioctx *rados.IOContext
	pool  string
}

var _ objstore.Store = (*RadosStore)(nil)

// NewRadosStore connects to the cluster described by confFile (default
// search path when empty) and opens pool.
func NewRadosStore(confFile, pool string) (*RadosStore, error) {
	conn, err := rados.NewConn()
	if err != nil {
		return nil, fmt.Errorf("ceph.NewRadosStore: new conn: %w", err)
	}
	if confFile != "" {
		err = conn.ReadConfigFile(confFile)
	} else {
		err = conn.ReadDefaultConfigFile()
	}
	if err != nil {
		return nil, fmt.Errorf("ceph.NewRadosStore: read config %q: %w", confFile, err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("ceph.NewRadosStore: connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(pool)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("ceph.NewRadosStore: open pool %q: %w", pool, err)
	}
	log.Debug().Str("component", "ceph").Str("pool", pool).Msg("rados connected")
	return &RadosStore{conn: conn, ioctx: ioctx, pool: pool}, nil
}

func (s *RadosStore) Type() string { return "rados" }

// GetXattr reads attribute name of object.
func (s *RadosStore) GetXattr(ctx context.Context, object, name string) ([]byte, error) {
	for size := initialXattrBuf; size <= maxXattrBuf; size *= 4 {
		buf := make([]byte, size)
		n, err := s.ioctx.GetXattr(object, name, buf)
		if err == nil {
			metrics.StoreReads.WithLabelValues(s.Type(), "ok").Inc()
			return buf[:n], nil
		}
		if hasErrno(err, syscall.ERANGE) {
			continue
		}
		metrics.StoreReads.WithLabelValues(s.Type(), "error").Inc()
		if errors.Is(err, rados.ErrNotFound) || hasErrno(err, syscall.ENODATA) {
			return nil, fmt.Errorf("ceph: getxattr %s/%s %s: %w", s.pool, object, name, objstore.ErrNotFound)
		}
		return nil, fmt.Errorf("ceph: getxattr %s/%s %s: %w", s.pool, object, name, err)
	}
	metrics.StoreReads.WithLabelValues(s.Type(), "error").Inc()
	return nil, fmt.Errorf("ceph: getxattr %s/%s %s: value larger than %d bytes", s.pool, object, name, maxXattrBuf)
}

// Close destroys the pool context and shuts the connection down.
func (s *RadosStore) Close() error {
	s.ioctx.Destroy()
	s.conn.Shutdown()
	return nil
}
