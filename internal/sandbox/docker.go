package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/logfields"
)

// DockerOptions configures a container-backed environment.
type DockerOptions struct {
	Image         string
	ContainerName string
	BuildID       string
	Building      bool              // building mode: command failures recorded, not raised
	BaseEnv       map[string]string // injected into every command
	Binds         []string          // host:container volume binds for the checkout
	MemoryLimit   int64             // bytes, 0 for unlimited
	CommandTime   time.Duration     // soft wall-clock limit per command
	User          string            // default exec user; privileged runs override per-command

	// Hardened disables privilege escalation inside the container. Set
	// for builds combining pinned tools with custom job hooks.
	Hardened bool
}

// DockerEnvironment runs commands inside a dedicated container. The
// container is created on Start and force-removed on Close.
type DockerEnvironment struct {
	cli      *client.Client
	opts     DockerOptions
	recorder CommandRecorder

	containerID string
	started     bool
}

// NewDockerEnvironment creates the environment without provisioning it.
func NewDockerEnvironment(cli *client.Client, recorder CommandRecorder, opts DockerOptions) *DockerEnvironment {
	if opts.CommandTime <= 0 {
		opts.CommandTime = 30 * time.Minute
	}
	return &DockerEnvironment{cli: cli, recorder: recorder, opts: opts}
}

// Start creates and starts the container. Any failure here is an
// environment provisioning error, fatal to the build.
func (d *DockerEnvironment) Start(ctx context.Context) error {
	cfg := &container.Config{
		Image: d.opts.Image,
		// Keep the container alive; commands run as execs.
		Cmd:  []string{"/bin/sh", "-c", "sleep infinity"},
		User: d.opts.User,
	}
	hostCfg := &container.HostConfig{
		Binds: d.opts.Binds,
	}
	if d.opts.MemoryLimit > 0 {
		hostCfg.Resources = container.Resources{Memory: d.opts.MemoryLimit}
	}
	if d.opts.Hardened {
		hostCfg.SecurityOpt = []string{"no-new-privileges"}
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, d.opts.ContainerName)
	if err != nil {
		return berrors.EnvironmentError("could not create build container", err).
			WithContext("image", d.opts.Image)
	}
	d.containerID = created.ID

	if err := d.cli.ContainerStart(ctx, d.containerID, container.StartOptions{}); err != nil {
		// Start failed after create: release what we acquired.
		_ = d.cli.ContainerRemove(context.WithoutCancel(ctx), d.containerID, container.RemoveOptions{Force: true})
		d.containerID = ""
		return berrors.EnvironmentError("could not start build container", err).
			WithContext("image", d.opts.Image)
	}

	d.started = true
	slog.Debug("Sandbox container started",
		logfields.BuildID(d.opts.BuildID),
		slog.String("container", d.containerID[:12]),
		slog.String("image", d.opts.Image))
	return nil
}

// Run executes one command as a container exec.
func (d *DockerEnvironment) Run(ctx context.Context, opts RunOptions, args ...string) (*CommandResult, error) {
	if !d.started {
		return nil, berrors.EnvironmentError("sandbox not started", nil)
	}
	if len(args) == 0 {
		return nil, berrors.EnvironmentError("empty command", nil)
	}

	cmd := args
	display := joinCommand(args)
	if opts.Shell {
		cmd = []string{"/bin/sh", "-c", display}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.opts.CommandTime)
	defer cancel()

	result := &CommandResult{Command: display, StartTime: time.Now()}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		Env:          mergeEnv(d.opts.BaseEnv, opts.Env),
		WorkingDir:   opts.Cwd,
		User:         opts.User,
		AttachStdout: true,
		AttachStderr: true,
	}
	if execCfg.User == "" {
		execCfg.User = d.opts.User
	}

	execResp, err := d.cli.ContainerExecCreate(runCtx, d.containerID, execCfg)
	if err != nil {
		return nil, berrors.EnvironmentError("could not create exec in build container", err)
	}

	attach, err := d.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, berrors.EnvironmentError("could not attach to exec in build container", err)
	}
	defer attach.Close()

	// Interleave stdout and stderr in capture order.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil && runCtx.Err() == nil {
		return nil, berrors.EnvironmentError("could not read command output", err)
	}
	result.Output = buf.String()
	result.EndTime = time.Now()

	if runCtx.Err() != nil {
		result.ExitCode = -1
		result.Output += "\n\nCommand killed due to timeout"
	} else {
		inspect, err := d.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, berrors.EnvironmentError("could not inspect exec result", err)
		}
		result.ExitCode = inspect.ExitCode
	}

	slog.Debug("Sandbox command finished",
		logfields.BuildID(d.opts.BuildID),
		logfields.Command(display),
		logfields.ExitCode(result.ExitCode),
		logfields.DurationMS(float64(result.EndTime.Sub(result.StartTime).Milliseconds())))

	return finishRun(ctx, d.recorder, d.opts.BuildID, d.opts.Building, opts, result)
}

// Close force-removes the container. Safe after a failed Start and on
// every exit path; removal runs even when the parent context is canceled.
func (d *DockerEnvironment) Close(ctx context.Context) error {
	if d.containerID == "" {
		return nil
	}
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := d.cli.ContainerRemove(rmCtx, d.containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("removing build container %s: %w", d.containerID[:12], err)
	}
	d.containerID = ""
	d.started = false
	return nil
}
