package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/proc"
)

// RadosCLIStore reads xattrs with "rados getxattr". It needs no librados
// binding in this process.
type RadosCLIStore struct {
	runner   proc.Runner
	tool     string
	confFile string
	pool     string
}

// NewRadosCLIStore returns a store that shells out to tool (the rados binary).
func NewRadosCLIStore(runner proc.Runner, tool, confFile, pool string) *RadosCLIStore {
	return &RadosCLIStore{runner: runner, tool: tool, confFile: confFile, pool: pool}
}

func (s *RadosCLIStore) Type() string { return "rados-cli" }

// GetXattr runs rados -p <pool> getxattr <object> <name> and returns stdout
// verbatim.
func (s *RadosCLIStore) GetXattr(ctx context.Context, object, name string) ([]byte, error) {
	var args []string
	if s.confFile != "" {
		args = append(args, "-c", s.confFile)
	}
	args = append(args, "-p", s.pool, "getxattr", object, name)

	out, err := s.runner.Run(ctx, s.tool, args...)
	if err != nil {
		metrics.StoreReads.WithLabelValues(s.Type(), "error").Inc()
		var exitErr *proc.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "No such file or directory") {
			return nil, fmt.Errorf("objstore: getxattr %s/%s %s: %w", s.pool, object, name, ErrNotFound)
		}
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "No data available") {
			return nil, fmt.Errorf("objstore: getxattr %s/%s %s: %w", s.pool, object, name, ErrNotFound)
		}
		return nil, fmt.Errorf("objstore: getxattr %s/%s %s: %w", s.pool, object, name, err)
	}
	metrics.StoreReads.WithLabelValues(s.Type(), "ok").Inc()
	return out.Stdout, nil
}

// Close is a no-op.
func (s *RadosCLIStore) Close() error { return nil }
