// Package naming derives collision-free path names for harness runs.
package naming

import (
	"fmt"
	"os"
	"strings"
)

// Allocator derives leaf names of the form <prefix>.<pid>.<scenario>.<sub>.
// The process ID keeps concurrent or repeated runs against the same
// filesystem from colliding.
type Allocator struct {
	Prefix string
	PID    int
}

// New returns an Allocator for the current process.
func New(prefix string) Allocator {
	return Allocator{Prefix: prefix, PID: os.Getpid()}
}

// WithRound returns an allocator whose names are distinct from every other
// round of the same process. Round 0 keeps the plain prefix.
func (a Allocator) WithRound(round int) Allocator {
	if round <= 0 {
		return a
	}
	return Allocator{Prefix: fmt.Sprintf("%s-r%d", a.Prefix, round), PID: a.PID}
}

// Name returns the leaf name for (scenario, sub) and its full path under base.
func (a Allocator) Name(base string, scenario, sub int) (leaf, full string) {
	leaf = fmt.Sprintf("%s.%d.%d.%d", a.Prefix, a.PID, scenario, sub)
	return leaf, Join(base, leaf)
}

// NameNoSub is Name without the sub-index component.
func (a Allocator) NameNoSub(base string, scenario int) (leaf, full string) {
	leaf = fmt.Sprintf("%s.%d.%d", a.Prefix, a.PID, scenario)
	return leaf, Join(base, leaf)
}

// Churn returns the root-relative throwaway name used by the i'th flush
// create/unlink.
func (a Allocator) Churn(i int) string {
	return fmt.Sprintf("%s.%d.%d", a.Prefix, a.PID, i)
}

// Join appends leaf to base with exactly one separator.
func Join(base, leaf string) string {
	if base == "" {
		return leaf
	}
	return strings.TrimRight(base, "/") + "/" + leaf
}
