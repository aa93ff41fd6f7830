package fsclient

import (
	"fmt"
	"os"
	"path"
	"sync"
	"syscall"
)

// MemoryClient is an in-process namespace (for testing). Inodes are handed
// out sequentially from 0x10000000000, the root is inode 1.
type MemoryClient struct {
	mu      sync.Mutex
	nodes   map[string]memNode
	next    InodeID
	closed  bool
	creates int
	unlinks int
}

type memNode struct {
	ino InodeID
	dir bool
}

// RootIno is the inode of "/" in a MemoryClient.
const RootIno InodeID = 1

// NewMemoryClient creates an empty namespace.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		nodes: map[string]memNode{"/": {ino: RootIno, dir: true}},
		next:  0x10000000000,
	}
}

func (m *MemoryClient) add(p string, dir bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	p = path.Clean(p)
	if n, ok := m.nodes[p]; ok {
		// Create opens an existing file, as O_CREAT without O_EXCL does.
		switch {
		case dir:
			return os.ErrExist
		case n.dir:
			return syscall.EISDIR
		}
		return nil
	}
	parent, ok := m.nodes[path.Dir(p)]
	if !ok {
		return os.ErrNotExist
	}
	if !parent.dir {
		return syscall.ENOTDIR
	}
	m.nodes[p] = memNode{ino: m.next, dir: dir}
	m.next++
	if !dir {
		m.creates++
	}
	return nil
}

func (m *MemoryClient) Mkdir(p string, mode os.FileMode) error { return m.add(p, true) }

func (m *MemoryClient) Create(p string, mode os.FileMode) error { return m.add(p, false) }

func (m *MemoryClient) Stat(p string) (InodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, os.ErrClosed
	}
	n, ok := m.nodes[path.Clean(p)]
	if !ok {
		return 0, &NotFoundError{Path: p}
	}
	return n.ino, nil
}

func (m *MemoryClient) Unlink(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	p = path.Clean(p)
	n, ok := m.nodes[p]
	if !ok {
		return os.ErrNotExist
	}
	if n.dir {
		return syscall.EISDIR
	}
	delete(m.nodes, p)
	m.unlinks++
	return nil
}

func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("fsclient: memory client already closed")
	}
	m.closed = true
	return nil
}

// Reopen returns a new client over the same namespace, as a reconnect would.
func (m *MemoryClient) Reopen() *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := make(map[string]memNode, len(m.nodes))
	for k, v := range m.nodes {
		nodes[k] = v
	}
	return &MemoryClient{nodes: nodes, next: m.next}
}

// Closed reports whether Close was called.
func (m *MemoryClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Counts returns the number of files created and unlinked.
func (m *MemoryClient) Counts() (creates, unlinks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.unlinks
}

// Len returns the number of entries, including the root.
func (m *MemoryClient) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes)
}
