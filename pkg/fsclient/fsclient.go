// Package fsclient performs namespace operations against the filesystem
// under test and reports the inode numbers the metadata server assigned.
package fsclient

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// InodeID identifies a filesystem object.
type InodeID uint64

// ErrNotFound is matched by NotFoundError.
var ErrNotFound = errors.New("not found")

// Fixed modes for objects created by the harness.
const (
	DirMode  os.FileMode = 0o755
	FileMode os.FileMode = 0o644
)

// Client is a connected filesystem client. Paths are absolute within the
// filesystem (rooted at "/").
type Client interface {
	Mkdir(path string, mode os.FileMode) error
	// Create creates a regular file and closes it again.
	Create(path string, mode os.FileMode) error
	Stat(path string) (InodeID, error)
	Unlink(path string) error
	Close() error
}

// Dialer connects a fresh client.
type Dialer func(ctx context.Context) (Client, error)

// FilesystemError reports a failed namespace operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("fsclient: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// NotFoundError reports a path that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fsclient: %s: not found", e.Path)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Actions wraps a Client with the operations scenarios use. Each returns the
// inode number of the object it touched.
type Actions struct {
	client Client
}

// NewActions wraps c.
func NewActions(c Client) *Actions {
	return &Actions{client: c}
}

// Client returns the wrapped client.
func (a *Actions) Client() Client { return a.client }

// Mkdir creates a directory and returns its inode.
func (a *Actions) Mkdir(path string) (InodeID, error) {
	if err := a.client.Mkdir(path, DirMode); err != nil {
		return 0, wrap("mkdir", path, err)
	}
	return a.StatInode(path)
}

// CreateFile creates a regular file, closes it and returns its inode.
func (a *Actions) CreateFile(path string) (InodeID, error) {
	if err := a.client.Create(path, FileMode); err != nil {
		return 0, wrap("create", path, err)
	}
	return a.StatInode(path)
}

// StatInode resolves path to its inode.
func (a *Actions) StatInode(path string) (InodeID, error) {
	ino, err := a.client.Stat(path)
	if err != nil {
		return 0, wrap("stat", path, err)
	}
	return ino, nil
}

// Unlink removes a file.
func (a *Actions) Unlink(path string) error {
	if err := a.client.Unlink(path); err != nil {
		return wrap("unlink", path, err)
	}
	return nil
}

func wrap(op, path string, err error) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	if errors.Is(err, os.ErrNotExist) && op == "stat" {
		return &NotFoundError{Path: path}
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}
