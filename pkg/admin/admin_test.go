package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/proc"
)

// recorder is a fake ceph binary answering "mds stat" from a script.
type recorder struct {
	mu     sync.Mutex
	calls  [][]string
	stat   []string // successive mds stat outputs; the last one repeats
	failOn string   // fail any command containing this argument
}

func (r *recorder) Run(ctx context.Context, name string, args ...string) (proc.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	for _, a := range args {
		if r.failOn != "" && a == r.failOn {
			return proc.Output{}, &proc.ExitError{Command: name, Code: 22, Stderr: "Invalid argument"}
		}
	}
	if len(args) >= 2 && args[len(args)-2] == "mds" && args[len(args)-1] == "stat" {
		out := r.stat[0]
		if len(r.stat) > 1 {
			r.stat = r.stat[1:]
		}
		return proc.Output{Stdout: []byte(out + "\n")}, nil
	}
	return proc.Output{}, nil
}

func (r *recorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func TestSetConfigParameter_Legacy(t *testing.T) {
	r := &recorder{}
	c := NewController(r, Options{Tool: "/usr/bin/ceph", ConfFile: "/etc/ceph/ceph.conf", Name: "a"})

	require.NoError(t, c.SetConfigParameter(context.Background(), "--mds_log_max_segments 2"))
	assert.Equal(t, [][]string{{
		"/usr/bin/ceph", "-c", "/etc/ceph/ceph.conf", "mds", "tell", "a", "injectargs", "--mds_log_max_segments 2",
	}}, r.Calls())
}

func TestSetConfigParameter_Modern(t *testing.T) {
	r := &recorder{}
	c := NewController(r, Options{Name: "b", TellStyle: TellModern})

	require.NoError(t, c.SetConfigParameter(context.Background(), "--debug_mds 20"))
	assert.Equal(t, [][]string{{"ceph", "tell", "mds.b", "injectargs", "--debug_mds 20"}}, r.Calls())
}

func TestInjectFault(t *testing.T) {
	r := &recorder{}
	c := NewController(r, Options{Name: "a"})

	require.NoError(t, c.InjectFault(context.Background(), FaultOpenc, 1))
	require.NoError(t, c.InjectFault(context.Background(), FaultReplay, 3))
	require.NoError(t, c.InjectFault(context.Background(), FaultPoint("journal_expire"), 2))

	calls := r.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "--mds_kill_openc_at 1", calls[0][len(calls[0])-1])
	assert.Equal(t, "--mds_kill_replay_at 3", calls[1][len(calls[1])-1])
	assert.Equal(t, "--mds_kill_journal_expire_at 2", calls[2][len(calls[2])-1])
}

func TestSetConfigParameter_Failure(t *testing.T) {
	r := &recorder{failOn: "injectargs"}
	c := NewController(r, Options{Name: "a"})

	err := c.SetConfigParameter(context.Background(), "--bogus 1")
	var ce *CommandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Contains(t, ce.Command, "injectargs --bogus 1")
	var ee *proc.ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 22, ee.Code)
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		status string
		name   string
		want   bool
	}{
		{"e5: 1/1/1 up {0=a=up:active}", "a", true},
		{"cephfs:1 {0=a=up:active} 2 up:standby", "a", true},
		{"e5: 1/1/1 up {0=a=up:replay}", "a", false},
		{"e5: 1/1/1 up {0=xa=up:active}", "a", false},
		{"e5: 1/1/1 up {0=b=up:active}, 1 up:standby", "a", false},
		{"a=up:active", "a", true},
		{"", "a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsActive(tt.status, tt.name), "IsActive(%q, %q)", tt.status, tt.name)
	}
}

func TestWaitUntilActive_PollsUntilActive(t *testing.T) {
	r := &recorder{stat: []string{
		"e4: 1/1/1 up {0=a=up:replay}",
		"e5: 1/1/1 up {0=a=up:reconnect}",
		"e6: 1/1/1 up {0=a=up:active}",
	}}
	c := NewController(r, Options{Name: "a", PollInterval: time.Millisecond, ActiveTimeout: 5 * time.Second})

	require.NoError(t, c.WaitUntilActive(context.Background()))
	assert.Len(t, r.Calls(), 3, "should stop polling once active")
}

func TestWaitUntilActive_AlreadyActive(t *testing.T) {
	r := &recorder{stat: []string{"e6: 1/1/1 up {0=a=up:active}"}}
	c := NewController(r, Options{Name: "a", PollInterval: time.Hour, ActiveTimeout: 2 * time.Hour})

	done := make(chan error, 1)
	go func() { done <- c.WaitUntilActive(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitUntilActive waited a poll interval before the first check")
	}
}

func TestWaitUntilActive_Timeout(t *testing.T) {
	r := &recorder{stat: []string{"e4: 1/1/1 up {0=a=up:replay}"}}
	c := NewController(r, Options{Name: "a", PollInterval: 5 * time.Millisecond, ActiveTimeout: 30 * time.Millisecond})

	start := time.Now()
	err := c.WaitUntilActive(context.Background())
	var te *TimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "a", te.Name)
	assert.Contains(t, te.LastStatus, "up:replay")
	assert.GreaterOrEqual(t, te.Waited, 30*time.Millisecond)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitUntilActive_RetriesFailedPolls(t *testing.T) {
	var n int
	r := proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
		n++
		if n < 3 {
			return proc.Output{}, errors.New("monclient: hunting for new mon")
		}
		return proc.Output{Stdout: []byte("{0=a=up:active}")}, nil
	})
	c := NewController(r, Options{Name: "a", PollInterval: time.Millisecond, ActiveTimeout: 5 * time.Second})
	require.NoError(t, c.WaitUntilActive(context.Background()))
	assert.Equal(t, 3, n)
}

func TestWaitUntilActive_ContextCancel(t *testing.T) {
	r := &recorder{stat: []string{"{0=a=up:replay}"}}
	c := NewController(r, Options{Name: "a", PollInterval: time.Millisecond, ActiveTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitUntilActive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

type fakeRestarter struct {
	calls int
	err   error
}

func (f *fakeRestarter) Method() string { return "fake" }

func (f *fakeRestarter) Restart(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestRestart(t *testing.T) {
	r := &recorder{stat: []string{"{0=a=up:active}"}}
	fr := &fakeRestarter{}
	c := NewController(r, Options{Name: "a", PollInterval: time.Millisecond, ActiveTimeout: time.Second, Restarter: fr})

	require.NoError(t, c.Restart(context.Background()))
	assert.Equal(t, 1, fr.calls)
	assert.Len(t, r.Calls(), 1, "restart should wait for active")
}

func TestRestart_Failure(t *testing.T) {
	r := &recorder{stat: []string{"{0=a=up:active}"}}
	fr := &fakeRestarter{err: errors.New("boom")}
	c := NewController(r, Options{Name: "a", Restarter: fr})

	err := c.Restart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "via fake")
	assert.Empty(t, r.Calls())
}

func TestRestart_DefaultsToNone(t *testing.T) {
	r := &recorder{stat: []string{"{0=a=up:active}"}}
	c := NewController(r, Options{Name: "a", PollInterval: time.Millisecond})
	require.NoError(t, c.Restart(context.Background()))
}

func TestCommandRestarter(t *testing.T) {
	var got []string
	r := proc.RunnerFunc(func(ctx context.Context, name string, args ...string) (proc.Output, error) {
		got = append([]string{name}, args...)
		return proc.Output{}, nil
	})
	cr, err := NewCommandRestarter(r, []string{"systemctl", "restart", "ceph-mds@a"})
	require.NoError(t, err)
	require.NoError(t, cr.Restart(context.Background()))
	assert.Equal(t, []string{"systemctl", "restart", "ceph-mds@a"}, got)
	assert.Equal(t, "command", cr.Method())

	_, err = NewCommandRestarter(r, nil)
	assert.Error(t, err)
}

type fakeContainers struct {
	id      string
	timeout *int
	err     error
}

func (f *fakeContainers) ContainerRestart(ctx context.Context, id string, opts container.StopOptions) error {
	f.id, f.timeout = id, opts.Timeout
	return f.err
}

func (f *fakeContainers) Close() error { return nil }

func TestDockerRestarter(t *testing.T) {
	fc := &fakeContainers{}
	dr := &DockerRestarter{cli: fc, container: "ceph-mds-a"}

	require.NoError(t, dr.Restart(context.Background()))
	assert.Equal(t, "ceph-mds-a", fc.id)
	require.NotNil(t, fc.timeout)
	assert.Equal(t, stopTimeout, *fc.timeout)
	assert.Equal(t, "docker", dr.Method())
}

func TestDockerRestarter_NotFound(t *testing.T) {
	fc := &fakeContainers{err: fmt.Errorf("no such container: %w", cerrdefs.ErrNotFound)}
	dr := &DockerRestarter{cli: fc, container: "gone"}

	err := dr.Restart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `container "gone" not found`)
	assert.True(t, cerrdefs.IsNotFound(err))
}
