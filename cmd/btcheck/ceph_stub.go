//go:build !ceph

package main

import "github.com/fsprobe/btcheck/pkg/harness"

// cephOptions is empty without the ceph build tag; the stack then offers
// only the rados-cli and xattr-dir stores and the posix client.
func cephOptions() []harness.Option {
	return nil
}
