package objstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/pkg/xattr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/proc"
)

func TestObjectName(t *testing.T) {
	assert.Equal(t, "10000000000.00000000", ObjectName(0x10000000000))
	assert.Equal(t, "1.00000000", ObjectName(1))
	assert.Equal(t, "deadbeef.00000000", ObjectName(0xdeadbeef))
}

func TestRadosCLIStore_Args(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
		gotName, gotArgs = name, args
		return proc.Output{Stdout: []byte{0x05, 0x04, 0x00}}, nil
	})

	s := NewRadosCLIStore(r, "/opt/ceph/bin/rados", "/etc/ceph/ceph.conf", "cephfs_data")
	data, err := s.GetXattr(context.Background(), "10000000000.00000000", ParentAttr)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x04, 0x00}, data)
	assert.Equal(t, "/opt/ceph/bin/rados", gotName)
	assert.Equal(t, []string{"-c", "/etc/ceph/ceph.conf", "-p", "cephfs_data", "getxattr", "10000000000.00000000", "parent"}, gotArgs)
}

func TestRadosCLIStore_NotFound(t *testing.T) {
	r := proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
		return proc.Output{}, &proc.ExitError{Command: name, Code: 1, Stderr: "error getting xattr data/1.00000000/parent: (2) No such file or directory"}
	})
	s := NewRadosCLIStore(r, "rados", "", "data")
	_, err := s.GetXattr(context.Background(), "1.00000000", ParentAttr)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestRadosCLIStore_OtherFailure(t *testing.T) {
	r := proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
		return proc.Output{}, &proc.TimeoutError{Command: name}
	})
	s := NewRadosCLIStore(r, "rados", "", "data")
	_, err := s.GetXattr(context.Background(), "1.00000000", ParentAttr)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	var te *proc.TimeoutError
	assert.True(t, errors.As(err, &te))
}

func TestXattrDirStore(t *testing.T) {
	dir := t.TempDir()
	obj := filepath.Join(dir, "10000000001.00000000")
	require.NoError(t, os.WriteFile(obj, nil, 0o644))
	if err := xattr.Set(obj, "user.parent", []byte{1, 2, 3}); err != nil {
		if errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EPERM) {
			t.Skipf("user xattrs unsupported on %s: %v", dir, err)
		}
		t.Fatal(err)
	}

	s, err := NewXattrDirStore(dir, "user.")
	require.NoError(t, err)
	defer s.Close()

	data, err := s.GetXattr(context.Background(), "10000000001.00000000", ParentAttr)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = s.GetXattr(context.Background(), "10000000001.00000000", "layout")
	assert.True(t, errors.Is(err, ErrNotFound), "missing attr: %v", err)

	_, err = s.GetXattr(context.Background(), "ffff.00000000", ParentAttr)
	assert.True(t, errors.Is(err, ErrNotFound), "missing object: %v", err)
}

func TestNewXattrDirStore_Invalid(t *testing.T) {
	_, err := NewXattrDirStore(filepath.Join(t.TempDir(), "absent"), "user.")
	assert.Error(t, err)
}

func TestArchiveStore(t *testing.T) {
	ctx := context.Background()
	b, err := backend.NewRcloneBackend(ctx, "archive", "local", t.TempDir(), map[string]string{})
	require.NoError(t, err)

	s := NewArchiveStore(b, "run-1/0")
	defer s.Close()

	require.NoError(t, backend.Put(ctx, b, AttrPath("run-1/0", "abc.00000000", ParentAttr), []byte("blob")))

	data, err := s.GetXattr(ctx, "abc.00000000", ParentAttr)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	_, err = s.GetXattr(ctx, "def.00000000", ParentAttr)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.True(t, strings.Contains(err.Error(), "def.00000000"))
}
