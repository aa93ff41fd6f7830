package scenario

import (
	"context"

	"github.com/fsprobe/btcheck/pkg/admin"
)

// Builtins returns the standard scenarios.
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister(&Scenario{
		Index:       0,
		Name:        "basic verify",
		Description: "create /a/b/c, flush, verify",
		Body: func(ctx context.Context, env *Env) error {
			chain, err := env.MakeABC(ctx, 0)
			if err != nil {
				return err
			}
			if err := env.Flush(ctx); err != nil {
				return err
			}
			return env.Verify(ctx, chain)
		},
	})
	r.MustRegister(&Scenario{
		Index:       1,
		Name:        "kill openc",
		Description: "kill the MDS at the first openc, create /a/b/c, wait for recovery, flush, verify",
		Body: func(ctx context.Context, env *Env) error {
			if err := env.InjectFault(ctx, admin.FaultOpenc, 1); err != nil {
				return err
			}
			chain, err := env.MakeABC(ctx, 1)
			if err != nil {
				return err
			}
			if err := env.Recover(ctx); err != nil {
				return err
			}
			if err := env.Flush(ctx); err != nil {
				return err
			}
			return env.Verify(ctx, chain)
		},
	})
	r.MustRegister(&Scenario{
		Index:          2,
		Name:           "kill openc, then replay",
		Description:    "kill at openc, create /a/b/c, restart with a kill at replay, restart again, flush, verify",
		Disabled:       true,
		DisabledReason: "the replay kill must be armed in the daemon's startup config; injectargs cannot reach a dead MDS",
		Body: func(ctx context.Context, env *Env) error {
			if err := env.InjectFault(ctx, admin.FaultOpenc, 1); err != nil {
				return err
			}
			chain, err := env.MakeABC(ctx, 2)
			if err != nil {
				return err
			}
			if err := env.InjectFault(ctx, admin.FaultReplay, 1); err != nil {
				return err
			}
			if err := env.Recover(ctx); err != nil {
				return err
			}
			if err := env.Recover(ctx); err != nil {
				return err
			}
			if err := env.Flush(ctx); err != nil {
				return err
			}
			return env.Verify(ctx, chain)
		},
	})
	r.MustRegister(&Scenario{
		Index:          3,
		Name:           "flush, then kill replay",
		Description:    "create /a/b/c, flush, restart with a kill at replay, restart again, verify",
		Disabled:       true,
		DisabledReason: "needs a restart method that can arm mds_kill_replay_at before the daemon starts",
		Body: func(ctx context.Context, env *Env) error {
			chain, err := env.MakeABC(ctx, 3)
			if err != nil {
				return err
			}
			if err := env.Flush(ctx); err != nil {
				return err
			}
			if err := env.InjectFault(ctx, admin.FaultReplay, 1); err != nil {
				return err
			}
			if err := env.Recover(ctx); err != nil {
				return err
			}
			if err := env.Recover(ctx); err != nil {
				return err
			}
			return env.Verify(ctx, chain)
		},
	})
	return r
}
