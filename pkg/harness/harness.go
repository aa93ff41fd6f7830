// Package harness assembles the collaborators of a run from configuration.
package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/admin"
	"github.com/fsprobe/btcheck/pkg/artifacts"
	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/config"
	"github.com/fsprobe/btcheck/pkg/flush"
	"github.com/fsprobe/btcheck/pkg/fsclient"
	"github.com/fsprobe/btcheck/pkg/history"
	"github.com/fsprobe/btcheck/pkg/naming"
	"github.com/fsprobe/btcheck/pkg/objstore"
	"github.com/fsprobe/btcheck/pkg/proc"
	"github.com/fsprobe/btcheck/pkg/report"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

// StoreFactory opens the object store for store.type.
type StoreFactory func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error)

// DialerFactory returns the dialer for filesystem.client.
type DialerFactory func(cfg *config.Config) (fsclient.Dialer, error)

// Option customizes a Stack.
type Option func(*options)

type options struct {
	stores  map[string]StoreFactory
	dialers map[string]DialerFactory
	runner  proc.Runner
}

// WithStore registers or overrides the factory for a store type.
func WithStore(typ string, f StoreFactory) Option {
	return func(o *options) { o.stores[typ] = f }
}

// WithDialer registers or overrides the factory for a filesystem client.
func WithDialer(client string, f DialerFactory) Option {
	return func(o *options) { o.dialers[client] = f }
}

// WithRunner replaces the subprocess runner.
func WithRunner(r proc.Runner) Option {
	return func(o *options) { o.runner = r }
}

func defaultOptions() *options {
	return &options{
		stores: map[string]StoreFactory{
			"rados-cli": func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error) {
				return objstore.NewRadosCLIStore(runner, cfg.Tool("rados"), cfg.Ceph.ConfFile, cfg.Store.Pool), nil
			},
			"xattr-dir": func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error) {
				return objstore.NewXattrDirStore(cfg.Store.Dir, cfg.Store.Prefix)
			},
			"archive": func(ctx context.Context, cfg *config.Config, runner proc.Runner) (objstore.Store, error) {
				b, err := backend.FromConfig(ctx, cfg.Store.Archive)
				if err != nil {
					return nil, err
				}
				return objstore.NewArchiveStore(b, ""), nil
			},
		},
		dialers: map[string]DialerFactory{
			"posix": func(cfg *config.Config) (fsclient.Dialer, error) {
				return fsclient.PosixDialer(cfg.Filesystem.MountPoint), nil
			},
		},
	}
}

// Stack holds everything a run needs.
type Stack struct {
	Config   *config.Config
	Runner   proc.Runner
	Admin    *admin.Controller
	Store    objstore.Store
	Decoder  *backtrace.Decoder
	Verifier *backtrace.Verifier
	Dial     fsclient.Dialer
	Alloc    naming.Allocator
	Flusher  *flush.Flusher

	closers []func() error
}

// New builds a stack for cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Stack, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Stack{Config: cfg, Runner: o.runner}
	if s.Runner == nil {
		s.Runner = proc.NewExecRunner(cfg.Ceph.CommandTimeout)
	}

	restarter, err := s.restarter()
	if err != nil {
		return nil, err
	}
	s.Admin = admin.NewController(s.Runner, admin.Options{
		Tool:          cfg.Tool("ceph"),
		ConfFile:      cfg.Ceph.ConfFile,
		Name:          cfg.MDS.Name,
		TellStyle:     cfg.MDS.TellStyle,
		PollInterval:  cfg.MDS.PollInterval,
		ActiveTimeout: cfg.MDS.ActiveTimeout,
		Restarter:     restarter,
	})

	storeFactory, ok := o.stores[cfg.Store.Type]
	if !ok {
		s.Close()
		return nil, fmt.Errorf("harness.New: store type %q not available in this build", cfg.Store.Type)
	}
	s.Store, err = storeFactory(ctx, cfg, s.Runner)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("harness.New: open %s store: %w", cfg.Store.Type, err)
	}
	s.closers = append(s.closers, s.Store.Close)

	dialerFactory, ok := o.dialers[cfg.Filesystem.Client]
	if !ok {
		s.Close()
		return nil, fmt.Errorf("harness.New: filesystem client %q not available in this build", cfg.Filesystem.Client)
	}
	s.Dial, err = dialerFactory(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("harness.New: %s dialer: %w", cfg.Filesystem.Client, err)
	}

	s.Decoder = backtrace.NewDecoder(s.Runner, cfg.Decoder.Tool, cfg.Decoder.Type, cfg.Decoder.TempDir)
	s.Verifier = backtrace.NewVerifier(s.Store, s.Decoder)
	s.Alloc = naming.New(cfg.Naming.Prefix)
	s.Flusher = flush.New(s.Admin, s.Alloc, s.Dial, flush.Options{
		MaxSegments: cfg.Flush.MaxSegments,
		Churn:       cfg.Flush.Churn,
	})

	log.Debug().Str("component", "harness").Str("store", s.Store.Type()).
		Str("client", cfg.Filesystem.Client).Str("mds", cfg.MDS.Name).Msg("stack ready")
	return s, nil
}

func (s *Stack) restarter() (admin.Restarter, error) {
	rc := s.Config.MDS.Restart
	switch rc.Method {
	case "", "none":
		return admin.NoRestart{}, nil
	case "command":
		return admin.NewCommandRestarter(s.Runner, rc.Command)
	case "docker":
		r, err := admin.NewDockerRestarter(rc.DockerHost, rc.Container)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, r.Close)
		return r, nil
	default:
		return nil, fmt.Errorf("harness: unknown restart method %q", rc.Method)
	}
}

// Env connects a filesystem client and returns the scenario environment.
// The env is closed with the stack.
func (s *Stack) Env(ctx context.Context) (*scenario.Env, error) {
	env, err := scenario.NewEnv(ctx, scenario.EnvConfig{
		Alloc:    s.Alloc,
		Dial:     s.Dial,
		Admin:    s.Admin,
		Flusher:  s.Flusher,
		Verifier: s.Verifier,
		Pool:     s.Config.Run.ExpectedPool,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, env.Close)
	return env, nil
}

// Observers returns the configured result sinks: the event reporter, the
// run history and artifact capture. They are closed with the stack. The
// local history is skipped when events go to a collector, which records
// the run itself.
func (s *Stack) Observers(ctx context.Context) ([]scenario.Observer, error) {
	cfg := s.Config
	em, err := report.NewEmitter(cfg.Report.Sink, cfg.Report.FilePath, cfg.Report.HTTPAddr)
	if err != nil {
		return nil, err
	}
	rep := report.NewReporter(em, cfg.Report.SummaryPath)
	s.closers = append(s.closers, rep.Close)
	obs := []scenario.Observer{rep}

	// Runs reporting to a collector leave history to it.
	if cfg.History.Path != "" && cfg.Report.Sink != "http" {
		obs = append(obs, history.NewRecorder(cfg.History.Path))
	}

	if cfg.Artifacts.Enabled {
		b, err := backend.FromConfig(ctx, cfg.Artifacts.Backend)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close)
		obs = append(obs, artifacts.NewCapturer(b, cfg.Run.ExpectedPool))
	}
	return obs, nil
}

// RunOptions returns the runner options from the run section.
func (s *Stack) RunOptions() scenario.Options {
	return scenario.Options{
		KeepGoing:       s.Config.Run.KeepGoing,
		ContinueOnError: s.Config.Run.ContinueOnError,
		Repeat:          s.Config.Run.Repeat,
	}
}

// Close releases everything the stack opened, newest first.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
