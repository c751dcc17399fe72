package sandbox

import (
	"context"
	"os/exec"
	"time"

	berrors "github.com/docharbor/docharbor/internal/errors"
)

// LocalOptions configures a process-backed environment.
type LocalOptions struct {
	BuildID     string
	Building    bool
	BaseEnv     map[string]string
	Cwd         string // default working directory
	CommandTime time.Duration
}

// LocalEnvironment runs commands as host processes. Used by the `build`
// CLI command and tests; it honors the same contract as the container
// environment but provides no isolation.
type LocalEnvironment struct {
	opts     LocalOptions
	recorder CommandRecorder
	started  bool
}

// NewLocalEnvironment creates the environment without starting it.
func NewLocalEnvironment(recorder CommandRecorder, opts LocalOptions) *LocalEnvironment {
	if opts.CommandTime <= 0 {
		opts.CommandTime = 30 * time.Minute
	}
	return &LocalEnvironment{opts: opts, recorder: recorder}
}

// Start marks the environment active. There is nothing to provision.
func (l *LocalEnvironment) Start(context.Context) error {
	l.started = true
	return nil
}

// Run executes one command as a child process.
func (l *LocalEnvironment) Run(ctx context.Context, opts RunOptions, args ...string) (*CommandResult, error) {
	if !l.started {
		return nil, berrors.EnvironmentError("sandbox not started", nil)
	}
	if len(args) == 0 {
		return nil, berrors.EnvironmentError("empty command", nil)
	}

	display := joinCommand(args)
	argv := args
	if opts.Shell {
		argv = []string{"/bin/sh", "-c", display}
	}

	runCtx, cancel := context.WithTimeout(ctx, l.opts.CommandTime)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	if cmd.Dir == "" {
		cmd.Dir = l.opts.Cwd
	}
	cmd.Env = mergeEnv(l.opts.BaseEnv, opts.Env)

	result := &CommandResult{Command: display, StartTime: time.Now()}

	out, err := cmd.CombinedOutput()
	result.Output = string(out)
	result.EndTime = time.Now()

	switch {
	case err == nil:
		result.ExitCode = 0
	case runCtx.Err() != nil:
		result.ExitCode = -1
		result.Output += "\n\nCommand killed due to timeout"
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never started (missing binary, bad cwd).
			return nil, berrors.EnvironmentError("could not start command", err).
				WithContext("command", display)
		}
	}

	return finishRun(ctx, l.recorder, l.opts.BuildID, l.opts.Building, opts, result)
}

// Close releases nothing but keeps the scoped-acquisition contract.
func (l *LocalEnvironment) Close(context.Context) error {
	l.started = false
	return nil
}
