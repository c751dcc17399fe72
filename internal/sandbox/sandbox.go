// Package sandbox provides the scoped command-execution contract every
// build step runs through: a container-backed environment for production
// builds and a local process environment for the CLI and tests.
//
// An environment is acquired with Start and must be released with Close on
// every exit path. While an environment is in building mode, command
// failures are captured and returned as results; outside building mode a
// non-zero exit aborts the enclosing scope with an error.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docharbor/docharbor/internal/logfields"
)

// CommandResult is the captured outcome of one executed command. It is
// always populated, even when the command failed.
type CommandResult struct {
	Command   string
	Output    string // stdout+stderr merged in capture order
	ExitCode  int
	StartTime time.Time
	EndTime   time.Time
}

// Successful reports whether the command exited zero.
func (r *CommandResult) Successful() bool {
	return r.ExitCode == 0
}

// CommandError is returned for a non-zero exit when the environment is in
// critical (non-building) mode. The result is still attached.
type CommandError struct {
	Result *CommandResult
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited %d: %s", e.Result.ExitCode, e.Result.Command)
}

// RunOptions modifies a single command execution.
type RunOptions struct {
	Cwd  string
	Env  map[string]string // per-command overrides on top of the environment's base env
	User string            // privileged phases pass the super user here

	// Shell joins the arguments and runs them through `sh -c`. Only for
	// commands sourced from trusted config strings; everything else
	// passes discrete argv to avoid shell-injection ambiguity.
	Shell bool

	// NoRecord skips persisting the result against the owning build.
	NoRecord bool

	// DemandSuccess forces critical semantics for this command even while
	// the environment is in building mode.
	DemandSuccess bool
}

// CommandRecorder persists executed commands against the owning build.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, buildID string, result *CommandResult) error
}

// Environment is the sandboxed command runner contract.
type Environment interface {
	// Start provisions the sandbox. Provisioning failures are fatal to
	// the build and distinct from in-sandbox command failures.
	Start(ctx context.Context) error

	// Run executes one command and returns its captured result. In
	// building mode a non-zero exit returns (result, nil); in critical
	// mode it returns (result, *CommandError).
	Run(ctx context.Context, opts RunOptions, args ...string) (*CommandResult, error)

	// Close tears the sandbox down. It must be called on every exit path
	// and is safe to call after a failed Start.
	Close(ctx context.Context) error
}

// joinCommand renders argv for logging and recording.
func joinCommand(args []string) string {
	return strings.Join(args, " ")
}

// mergeEnv flattens the base environment plus per-command overrides into
// the KEY=VALUE form both executors consume. Overrides win.
func mergeEnv(base map[string]string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// finishRun applies the shared record-and-classify tail of both executors.
func finishRun(ctx context.Context, recorder CommandRecorder, buildID string, building bool, opts RunOptions, result *CommandResult) (*CommandResult, error) {
	if recorder != nil && !opts.NoRecord {
		if err := recorder.RecordCommand(ctx, buildID, result); err != nil {
			// Recording is observability, not control flow.
			slog.WarnContext(ctx, "Could not record command",
				logfields.BuildID(buildID), logfields.Error(err))
		}
	}
	if !result.Successful() && (!building || opts.DemandSuccess) {
		return result, &CommandError{Result: result}
	}
	return result, nil
}
