// Package backtrace decodes and verifies the "parent" attribute that the
// metadata server stores on the first object of every inode.
package backtrace

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ancestor is one expected link of a backtrace: the entry name and the inode
// of the directory holding it.
type Ancestor struct {
	Name   string `json:"dname"`
	DirIno uint64 `json:"dirino"`
}

// String renders the ancestor as name@0xdirino.
func (a Ancestor) String() string {
	return fmt.Sprintf("%s@%#x", a.Name, a.DirIno)
}

// DecodedAncestor is a backtrace entry as dumped by ceph-dencoder.
type DecodedAncestor struct {
	DirIno  uint64 `json:"dirino"`
	DName   string `json:"dname"`
	Version uint64 `json:"version"`
}

// Backtrace is the decoded form of an inode_backtrace_t. Ancestors are
// ordered nearest-first: entry 0 names the inode itself within its parent.
type Backtrace struct {
	Ino       uint64            `json:"ino"`
	Ancestors []DecodedAncestor `json:"ancestors"`
	Pool      int64             `json:"pool"`
	OldPools  []int64           `json:"old_pools"`
}

// Chain returns the ancestors without version numbers, comparable with an
// expected chain.
func (b *Backtrace) Chain() []Ancestor {
	out := make([]Ancestor, len(b.Ancestors))
	for i, a := range b.Ancestors {
		out[i] = Ancestor{Name: a.DName, DirIno: a.DirIno}
	}
	return out
}

// String renders the backtrace on one line for failure messages.
func (b *Backtrace) String() string {
	if b == nil {
		return "<nil>"
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Sprintf("%+v", *b)
	}
	return string(data)
}

// FormatChain renders an expected chain nearest-first.
func FormatChain(chain []Ancestor) string {
	parts := make([]string, len(chain))
	for i, a := range chain {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
