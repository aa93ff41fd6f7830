package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/objstore"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

// jsonDecoder treats the raw attribute as the JSON dump itself.
type jsonDecoder struct{}

func (jsonDecoder) Decode(ctx context.Context, raw []byte) (*backtrace.Backtrace, error) {
	var bt backtrace.Backtrace
	if err := json.Unmarshal(raw, &bt); err != nil {
		return nil, &backtrace.DecodeError{Err: err}
	}
	return &bt, nil
}

func localBackend(t *testing.T) backend.Backend {
	t.Helper()
	b, err := backend.NewRcloneBackend(context.Background(), "artifacts", "local", t.TempDir(), map[string]string{})
	require.NoError(t, err)
	return b
}

const ino = 0x10000000002

func storedBacktrace(name string) *backtrace.Backtrace {
	return &backtrace.Backtrace{
		Ino: ino,
		Ancestors: []backtrace.DecodedAncestor{
			{DirIno: 0x10000000001, DName: name, Version: 4},
			{DirIno: 0x10000000000, DName: "b", Version: 3},
			{DirIno: 1, DName: "a", Version: 2},
		},
	}
}

func expectedChain() []backtrace.Ancestor {
	return []backtrace.Ancestor{
		{Name: "c", DirIno: 0x10000000001},
		{Name: "b", DirIno: 0x10000000000},
		{Name: "a", DirIno: 1},
	}
}

// failResult produces the failed result a run would report when the stored
// backtrace names the file stored instead of "c".
func failResult(t *testing.T, round, index int, stored string) scenario.Result {
	t.Helper()
	bt := storedBacktrace(stored)
	raw, err := json.Marshal(bt)
	require.NoError(t, err)
	f := backtrace.Compare(ino, bt, expectedChain(), 0)
	require.NotNil(t, f)
	f.Raw = raw
	return scenario.Result{Round: round, Index: index, Name: "basic verify", Status: scenario.StatusFailed, Err: f, Reason: f.Reason}
}

func TestCaptureLayout(t *testing.T) {
	ctx := context.Background()
	b := localBackend(t)
	c := NewCapturer(b, 0)

	require.NoError(t, c.ScenarioFinished("run-1", failResult(t, 0, 0, "x")))

	prefix := Prefix("run-1", 0, 0)
	assert.Equal(t, "run-1/r0/0", prefix)

	data, err := backend.Get(ctx, b, prefix+"/failure.json")
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, uint64(ino), m.Ino)
	assert.Equal(t, "10000000002.00000000", m.Object)
	assert.Equal(t, backtrace.ReasonAncestorName, m.Reason)
	assert.Equal(t, expectedChain(), m.Expected)

	_, err = backend.Get(ctx, b, prefix+"/decoded.json")
	require.NoError(t, err)

	raw, err := objstore.NewArchiveStore(b, prefix).GetXattr(ctx, m.Object, objstore.ParentAttr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"dname":"x"`)
}

func TestCaptureIgnoresNonFailures(t *testing.T) {
	ctx := context.Background()
	b := localBackend(t)
	c := NewCapturer(b, 0)

	require.NoError(t, c.ScenarioFinished("run-2", scenario.Result{Status: scenario.StatusPassed}))
	require.NoError(t, c.ScenarioFinished("run-2", scenario.Result{Status: scenario.StatusError, Err: errors.New("mds down")}))

	_, err := b.List(ctx, "run-2")
	assert.True(t, errors.Is(err, backend.ErrNotFound), "got %v", err)
}

func TestRecheckRun(t *testing.T) {
	ctx := context.Background()
	b := localBackend(t)
	c := NewCapturer(b, 0)
	require.NoError(t, c.ScenarioFinished("run-3", failResult(t, 0, 0, "x")))
	require.NoError(t, c.ScenarioFinished("run-3", failResult(t, 1, 1, "y")))

	checks, err := RecheckRun(ctx, b, "run-3", jsonDecoder{})
	require.NoError(t, err)
	require.Len(t, checks, 2)
	sort.Slice(checks, func(i, j int) bool { return checks[i].Manifest.Round < checks[j].Manifest.Round })

	for i, chk := range checks {
		assert.Equal(t, i, chk.Manifest.Round)
		var f *backtrace.VerifyFailure
		require.True(t, errors.As(chk.Err, &f), "round %d: %v", i, chk.Err)
		assert.Equal(t, backtrace.ReasonAncestorName, f.Reason)
		require.NotNil(t, chk.Decoded)
	}
	assert.Equal(t, "y", checks[1].Decoded.Ancestors[0].DName)
}

func TestRecheckRun_FixedAttribute(t *testing.T) {
	ctx := context.Background()
	b := localBackend(t)
	c := NewCapturer(b, 0)
	require.NoError(t, c.ScenarioFinished("run-4", failResult(t, 0, 0, "x")))

	// Replace the captured attribute with a correct one.
	good, err := json.Marshal(storedBacktrace("c"))
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, b, objstore.AttrPath(Prefix("run-4", 0, 0), objstore.ObjectName(ino), objstore.ParentAttr), good))

	checks, err := RecheckRun(ctx, b, "run-4", jsonDecoder{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.NoError(t, checks[0].Err)
}

func TestRecheckRun_Unknown(t *testing.T) {
	_, err := RecheckRun(context.Background(), localBackend(t), "nope", jsonDecoder{})
	assert.True(t, errors.Is(err, backend.ErrNotFound), "got %v", err)
}

func TestPrune_RemovesOnlyCapturesThatVerify(t *testing.T) {
	ctx := context.Background()
	b := localBackend(t)
	c := NewCapturer(b, 0)
	require.NoError(t, c.ScenarioFinished("run-5", failResult(t, 0, 0, "x")))
	require.NoError(t, c.ScenarioFinished("run-5", failResult(t, 0, 1, "y")))

	fixed := Prefix("run-5", 0, 0)
	good, err := json.Marshal(storedBacktrace("c"))
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, b, objstore.AttrPath(fixed, objstore.ObjectName(ino), objstore.ParentAttr), good))

	checks, err := RecheckRun(ctx, b, "run-5", jsonDecoder{})
	require.NoError(t, err)
	require.Len(t, checks, 2)

	pruned, err := Prune(ctx, b, checks)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = backend.Get(ctx, b, path.Join(fixed, manifestName))
	assert.True(t, errors.Is(err, backend.ErrNotFound), "got %v", err)
	_, err = backend.Get(ctx, b, path.Join(Prefix("run-5", 0, 1), manifestName))
	assert.NoError(t, err)

	checks, err = RecheckRun(ctx, b, "run-5", jsonDecoder{})
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 1, checks[0].Manifest.Scenario)
	assert.Error(t, checks[0].Err)

	pruned, err = Prune(ctx, b, checks)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
