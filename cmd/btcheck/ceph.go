//go:build ceph

package main

import (
	"context"

	"github.com/fsprobe/btcheck/pkg/ceph"
	"github.com/fsprobe/btcheck/pkg/config"
	"github.com/fsprobe/btcheck/pkg/fsclient"
	"github.com/fsprobe/btcheck/pkg/harness"
	"github.com/fsprobe/btcheck/pkg/objstore"
	"github.com/fsprobe/btcheck/pkg/proc"
)

// cephOptions links the librados store and the libcephfs client into the
// stack.
func cephOptions() []harness.Option {
	return []harness.Option{
		harness.WithStore("rados", func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error) {
			return ceph.NewRadosStore(cfg.Ceph.ConfFile, cfg.Store.Pool)
		}),
		harness.WithDialer("cephfs", func(cfg *config.Config) (fsclient.Dialer, error) {
			return ceph.CephFSDialer(cfg.Filesystem.ConfFile), nil
		}),
	}
}
