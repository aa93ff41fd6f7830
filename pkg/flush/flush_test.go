package flush

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/fsclient"
	"github.com/fsprobe/btcheck/pkg/naming"
)

type fakeAdmin struct {
	params []string
	err    error
}

func (f *fakeAdmin) SetConfigParameter(ctx context.Context, param string) error {
	f.params = append(f.params, param)
	return f.err
}

func reopenDialer(c *fsclient.MemoryClient, dials *int) fsclient.Dialer {
	return func(ctx context.Context) (fsclient.Client, error) {
		*dials++
		return c.Reopen(), nil
	}
}

func TestFlush(t *testing.T) {
	admin := &fakeAdmin{}
	mem := fsclient.NewMemoryClient()
	var dials int
	alloc := naming.Allocator{Prefix: "testbt", PID: 42}
	f := New(admin, alloc, reopenDialer(mem, &dials), Options{MaxSegments: 2, Churn: 25})

	next, err := f.Flush(context.Background(), mem)
	require.NoError(t, err)

	assert.Equal(t, []string{"--mds_log_max_segments 2"}, admin.params)
	creates, unlinks := mem.Counts()
	assert.Equal(t, 25, creates)
	assert.Equal(t, 25, unlinks)
	assert.Equal(t, 1, mem.Len(), "churn files must all be unlinked")
	assert.True(t, mem.Closed(), "old client must be closed")
	assert.Equal(t, 1, dials)
	assert.NotSame(t, mem, next)
}

func TestFlush_ZeroChurn(t *testing.T) {
	mem := fsclient.NewMemoryClient()
	var dials int
	f := New(&fakeAdmin{}, naming.New("testbt"), reopenDialer(mem, &dials), Options{})

	_, err := f.Flush(context.Background(), mem)
	require.NoError(t, err)
	creates, _ := mem.Counts()
	assert.Zero(t, creates)
	assert.Equal(t, 1, dials)
}

func TestFlush_AdminFailure(t *testing.T) {
	mem := fsclient.NewMemoryClient()
	var dials int
	f := New(&fakeAdmin{err: errors.New("EINVAL")}, naming.New("testbt"), reopenDialer(mem, &dials), Options{Churn: 3})

	got, err := f.Flush(context.Background(), mem)
	var fe *FlushError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StepLowerSegments, fe.Step)
	assert.Same(t, mem, got)
	assert.False(t, mem.Closed())
	assert.Zero(t, dials)
}

func TestFlush_ChurnFailure(t *testing.T) {
	mem := fsclient.NewMemoryClient()
	alloc := naming.Allocator{Prefix: "testbt", PID: 7}
	// A directory squatting on a churn name makes the create fail.
	require.NoError(t, mem.Mkdir("/"+alloc.Churn(2), fsclient.DirMode))
	var dials int
	f := New(&fakeAdmin{}, alloc, reopenDialer(mem, &dials), Options{Churn: 5})

	_, err := f.Flush(context.Background(), mem)
	var fe *FlushError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StepChurn, fe.Step)
	var fsErr *fsclient.FilesystemError
	assert.True(t, errors.As(err, &fsErr))
	assert.Zero(t, dials)
}

func TestFlush_ReconnectFailure(t *testing.T) {
	mem := fsclient.NewMemoryClient()
	dial := func(ctx context.Context) (fsclient.Client, error) {
		return nil, errors.New("mount timed out")
	}
	f := New(&fakeAdmin{}, naming.New("testbt"), dial, Options{Churn: 1})

	got, err := f.Flush(context.Background(), mem)
	var fe *FlushError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StepReconnect, fe.Step)
	assert.Nil(t, got)
	assert.True(t, mem.Closed())
}

func TestFlush_Cancelled(t *testing.T) {
	mem := fsclient.NewMemoryClient()
	var dials int
	f := New(&fakeAdmin{}, naming.New("testbt"), reopenDialer(mem, &dials), Options{Churn: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Flush(ctx, mem)
	var fe *FlushError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StepChurn, fe.Step)
	assert.True(t, errors.Is(err, context.Canceled))
}
