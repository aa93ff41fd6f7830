package admin

import (
	"context"
	"fmt"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/proc"
)

// Restarter brings a killed MDS daemon back.
type Restarter interface {
	Method() string
	Restart(ctx context.Context) error
}

// NoRestart relies on a standby or the service manager respawning the daemon.
type NoRestart struct{}

func (NoRestart) Method() string { return "none" }

func (NoRestart) Restart(ctx context.Context) error { return nil }

// CommandRestarter runs an arbitrary command, e.g. "systemctl restart
// ceph-mds@a" or a vstart helper.
type CommandRestarter struct {
	runner proc.Runner
	argv   []string
}

// NewCommandRestarter creates a restarter running argv.
func NewCommandRestarter(runner proc.Runner, argv []string) (*CommandRestarter, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("admin.NewCommandRestarter: empty command")
	}
	return &CommandRestarter{runner: runner, argv: argv}, nil
}

func (r *CommandRestarter) Method() string { return "command" }

func (r *CommandRestarter) Restart(ctx context.Context) error {
	_, err := r.runner.Run(ctx, r.argv[0], r.argv[1:]...)
	return err
}

// containerAPI is the part of the Docker client the restarter uses.
type containerAPI interface {
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	Close() error
}

// stopTimeout is how long docker waits for the MDS to exit before killing it.
const stopTimeout = 10

// DockerRestarter restarts the container the MDS runs in.
type DockerRestarter struct {
	cli       containerAPI
	container string
}

// NewDockerRestarter connects to the Docker daemon at host, or the
// environment's default when host is empty.
func NewDockerRestarter(host, containerName string) (*DockerRestarter, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("admin.NewDockerRestarter: %w", err)
	}
	return &DockerRestarter{cli: cli, container: containerName}, nil
}

func (r *DockerRestarter) Method() string { return "docker" }

func (r *DockerRestarter) Restart(ctx context.Context) error {
	timeout := stopTimeout
	start := time.Now()
	err := r.cli.ContainerRestart(ctx, r.container, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("container %q not found: %w", r.container, err)
		}
		return fmt.Errorf("container %q: %w", r.container, err)
	}
	log.Debug().Str("component", "admin").Str("container", r.container).
		Dur("took", time.Since(start)).Msg("container restarted")
	return nil
}

// Close releases the Docker client.
func (r *DockerRestarter) Close() error { return r.cli.Close() }
