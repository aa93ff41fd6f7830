package scenario

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/admin"
	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/fsclient"
	"github.com/fsprobe/btcheck/pkg/naming"
)

// Admin is the MDS control surface scenarios use.
type Admin interface {
	InjectFault(ctx context.Context, location admin.FaultPoint, count int) error
	Restart(ctx context.Context) error
}

// Flusher forces journal write-back and hands back a fresh client.
type Flusher interface {
	Flush(ctx context.Context, client fsclient.Client) (fsclient.Client, error)
}

// Verifier checks the stored backtrace of an inode.
type Verifier interface {
	Verify(ctx context.Context, ino uint64, expected []backtrace.Ancestor, pool int64) (*backtrace.Backtrace, error)
}

// Chain is a created path with the backtrace it should produce.
type Chain struct {
	Path     string
	Ino      fsclient.InodeID
	Expected []backtrace.Ancestor
}

// EnvConfig holds the collaborators of an Env.
type EnvConfig struct {
	Alloc    naming.Allocator
	Dial     fsclient.Dialer
	Admin    Admin
	Flusher  Flusher
	Verifier Verifier
	Pool     int64 // expected data pool id of new inodes
}

// Env is the state scenarios run against. It owns the current filesystem
// client, which flushes replace.
type Env struct {
	cfg     EnvConfig
	alloc   naming.Allocator
	actions *fsclient.Actions
	rootIno fsclient.InodeID
}

// NewEnv connects a filesystem client and resolves the root inode.
func NewEnv(ctx context.Context, cfg EnvConfig) (*Env, error) {
	e := &Env{cfg: cfg, alloc: cfg.Alloc}
	if err := e.ensureClient(ctx); err != nil {
		return nil, err
	}
	root, err := e.actions.StatInode("/")
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("scenario.NewEnv: stat root: %w", err)
	}
	e.rootIno = root
	return e, nil
}

// RootIno returns the inode of the filesystem root.
func (e *Env) RootIno() fsclient.InodeID { return e.rootIno }

// Alloc returns the allocator of the current round.
func (e *Env) Alloc() naming.Allocator { return e.alloc }

func (e *Env) setRound(round int) {
	e.alloc = e.cfg.Alloc.WithRound(round)
}

func (e *Env) ensureClient(ctx context.Context) error {
	if e.actions != nil {
		return nil
	}
	c, err := e.cfg.Dial(ctx)
	if err != nil {
		return fmt.Errorf("scenario: connect filesystem client: %w", err)
	}
	e.actions = fsclient.NewActions(c)
	return nil
}

// MakeABC creates dirA/dirB/fileC under the root with names scoped to
// scenario idx and returns the file's expected backtrace.
func (e *Env) MakeABC(ctx context.Context, idx int) (Chain, error) {
	if err := e.ensureClient(ctx); err != nil {
		return Chain{}, err
	}
	var expected []backtrace.Ancestor

	leafA, pathA := e.alloc.Name("/", idx, 0)
	inoA, err := e.actions.Mkdir(pathA)
	if err != nil {
		return Chain{}, err
	}
	expected = prepend(expected, leafA, e.rootIno)

	leafB, pathB := e.alloc.Name(pathA, idx, 1)
	inoB, err := e.actions.Mkdir(pathB)
	if err != nil {
		return Chain{}, err
	}
	expected = prepend(expected, leafB, inoA)

	leafC, pathC := e.alloc.Name(pathB, idx, 2)
	inoC, err := e.actions.CreateFile(pathC)
	if err != nil {
		return Chain{}, err
	}
	expected = prepend(expected, leafC, inoB)

	log.Debug().Str("component", "scenario").Str("path", pathC).
		Uint64("ino", uint64(inoC)).Msg("created test chain")
	return Chain{Path: pathC, Ino: inoC, Expected: expected}, nil
}

func prepend(chain []backtrace.Ancestor, name string, dirIno fsclient.InodeID) []backtrace.Ancestor {
	return append([]backtrace.Ancestor{{Name: name, DirIno: uint64(dirIno)}}, chain...)
}

// Flush forces the journal out and switches to the reconnected client.
func (e *Env) Flush(ctx context.Context) error {
	if err := e.ensureClient(ctx); err != nil {
		return err
	}
	next, err := e.cfg.Flusher.Flush(ctx, e.actions.Client())
	if next == nil {
		e.actions = nil
	} else {
		e.actions = fsclient.NewActions(next)
	}
	return err
}

// Verify checks the stored backtrace of chain against what was created.
func (e *Env) Verify(ctx context.Context, chain Chain) error {
	_, err := e.cfg.Verifier.Verify(ctx, uint64(chain.Ino), chain.Expected, e.cfg.Pool)
	return err
}

// InjectFault arms an MDS kill point.
func (e *Env) InjectFault(ctx context.Context, location admin.FaultPoint, count int) error {
	return e.cfg.Admin.InjectFault(ctx, location, count)
}

// Recover restarts the MDS and waits until it is active again.
func (e *Env) Recover(ctx context.Context) error {
	return e.cfg.Admin.Restart(ctx)
}

// Close releases the current filesystem client.
func (e *Env) Close() error {
	if e.actions == nil {
		return nil
	}
	err := e.actions.Client().Close()
	e.actions = nil
	return err
}
