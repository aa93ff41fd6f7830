package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/config"
	"github.com/fsprobe/btcheck/pkg/history"
	"github.com/fsprobe/btcheck/pkg/objstore"
	"github.com/fsprobe/btcheck/pkg/proc"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Filesystem.Client = "posix"
	cfg.Filesystem.MountPoint = t.TempDir()
	cfg.Store.Type = "xattr-dir"
	cfg.Store.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

var nopRunner = proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
	return proc.Output{}, nil
})

func TestNew_Local(t *testing.T) {
	cfg := localConfig(t)
	s, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "xattr-dir", s.Store.Type())
	assert.Equal(t, "a", s.Admin.Name())

	env, err := s.Env(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, env.RootIno())

	opts := s.RunOptions()
	assert.Equal(t, 1, opts.Repeat)
	assert.False(t, opts.KeepGoing)
}

func TestNew_CephNotLinked(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store type "rados" not available`)
}

func TestNew_StoreOverride(t *testing.T) {
	cfg := localConfig(t)
	cfg.Store.Type = "rados"
	var called bool
	s, err := New(context.Background(), cfg,
		WithRunner(nopRunner),
		WithStore("rados", func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error) {
			called = true
			return objstore.NewRadosCLIStore(runner, "rados", "", cfg.Store.Pool), nil
		}))
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, called)
	assert.Equal(t, "rados-cli", s.Store.Type())
}

func TestNew_CommandRestarter(t *testing.T) {
	cfg := localConfig(t)
	cfg.MDS.Restart.Method = "command"
	cfg.MDS.Restart.Command = []string{"true"}
	s, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)
	defer s.Close()
}

func TestObservers(t *testing.T) {
	cfg := localConfig(t)
	dir := t.TempDir()
	cfg.Report.Sink = "file"
	cfg.Report.FilePath = filepath.Join(dir, "events.jsonl")
	cfg.History.Path = filepath.Join(dir, "history")
	cfg.Artifacts.Enabled = true
	cfg.Artifacts.Backend = config.BackendConfig{Name: "artifacts", Type: "local", Root: filepath.Join(dir, "artifacts")}

	s, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)

	obs, err := s.Observers(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, 3)
	require.NoError(t, s.Close())
}

func TestObservers_CollectorOwnsHistory(t *testing.T) {
	cfg := localConfig(t)
	cfg.History.Path = filepath.Join(t.TempDir(), "history")
	held, err := history.Open(cfg.History.Path)
	require.NoError(t, err)
	defer held.Close()

	cfg.Report.Sink = "http"
	cfg.Report.HTTPAddr = "http://127.0.0.1:1"
	s, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)
	obs, err := s.Observers(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, 1, "no local recorder when a collector records the run")
	require.NoError(t, s.Close())

	// A locally reporting run opens the database only at the end.
	cfg.Report.Sink = "nop"
	s, err = New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)
	obs, err = s.Observers(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, 2)
	require.NoError(t, s.Close())
}

func TestObservers_BadSink(t *testing.T) {
	cfg := localConfig(t)
	cfg.Report.Sink = "file"
	s, err := New(context.Background(), cfg, WithRunner(nopRunner))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Observers(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "requires a path"))
}
