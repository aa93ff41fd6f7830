// Package flush forces the metadata server to write its journal back so
// that backtraces reach the object store.
package flush

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/fsclient"
	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/naming"
)

// Steps of a flush, reported in FlushError.
const (
	StepLowerSegments = "lower_segments"
	StepChurn         = "churn"
	StepClose         = "close"
	StepReconnect     = "reconnect"
)

// FlushError reports the step at which a flush failed.
type FlushError struct {
	Step string
	Err  error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush: %s: %v", e.Step, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// ConfigSetter injects runtime configuration into the MDS.
type ConfigSetter interface {
	SetConfigParameter(ctx context.Context, param string) error
}

// Options configures a Flusher.
type Options struct {
	MaxSegments int // journal segment cap injected before churning
	Churn       int // create/unlink pairs issued at the filesystem root
}

// Flusher lowers the journal segment cap, generates enough metadata churn to
// push earlier events out of the journal, and reconnects so the session's
// capabilities are released.
type Flusher struct {
	admin ConfigSetter
	alloc naming.Allocator
	dial  fsclient.Dialer
	opts  Options
}

// New creates a Flusher.
func New(admin ConfigSetter, alloc naming.Allocator, dial fsclient.Dialer, opts Options) *Flusher {
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = 2
	}
	return &Flusher{admin: admin, alloc: alloc, dial: dial, opts: opts}
}

// Flush runs one flush cycle with client and returns the client to use
// afterwards. client is closed by the reconnect step whether or not the
// flush succeeds past it, and must not be used again in that case.
func (f *Flusher) Flush(ctx context.Context, client fsclient.Client) (fsclient.Client, error) {
	start := time.Now()
	defer func() { metrics.FlushDuration.Observe(time.Since(start).Seconds()) }()

	param := fmt.Sprintf("--mds_log_max_segments %d", f.opts.MaxSegments)
	if err := f.admin.SetConfigParameter(ctx, param); err != nil {
		return client, &FlushError{Step: StepLowerSegments, Err: err}
	}

	actions := fsclient.NewActions(client)
	for i := 0; i < f.opts.Churn; i++ {
		if err := ctx.Err(); err != nil {
			return client, &FlushError{Step: StepChurn, Err: err}
		}
		path := naming.Join("/", f.alloc.Churn(i))
		if _, err := actions.CreateFile(path); err != nil {
			return client, &FlushError{Step: StepChurn, Err: err}
		}
		if err := actions.Unlink(path); err != nil {
			return client, &FlushError{Step: StepChurn, Err: err}
		}
		metrics.FlushChurnOps.Inc()
	}

	if err := client.Close(); err != nil {
		return nil, &FlushError{Step: StepClose, Err: err}
	}
	next, err := f.dial(ctx)
	if err != nil {
		return nil, &FlushError{Step: StepReconnect, Err: err}
	}

	log.Info().Str("component", "flush").Int("churn", f.opts.Churn).
		Dur("took", time.Since(start)).Msg("journal flushed")
	return next, nil
}
