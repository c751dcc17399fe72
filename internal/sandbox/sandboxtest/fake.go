// Package sandboxtest provides an in-memory sandbox.Environment for
// exercising pipeline components without containers or processes.
package sandboxtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/docharbor/docharbor/internal/sandbox"
)

// FakeEnvironment records every command and lets tests script exit codes.
type FakeEnvironment struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	building bool

	// Commands holds every executed command line in order.
	Commands []string

	// ExitCodeFor, when set, decides the exit code per command line.
	ExitCodeFor func(command string) int

	// OutputFor, when set, supplies command output.
	OutputFor func(command string) string

	// StartErr makes Start fail, simulating a provisioning failure.
	StartErr error
}

// NewFake returns a fake environment in building mode.
func NewFake() *FakeEnvironment {
	return &FakeEnvironment{building: true}
}

// NewCriticalFake returns a fake environment in critical mode.
func NewCriticalFake() *FakeEnvironment {
	return &FakeEnvironment{}
}

func (f *FakeEnvironment) Start(context.Context) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.started = true
	return nil
}

func (f *FakeEnvironment) Run(ctx context.Context, opts sandbox.RunOptions, args ...string) (*sandbox.CommandResult, error) {
	f.mu.Lock()
	command := strings.Join(args, " ")
	f.Commands = append(f.Commands, command)
	f.mu.Unlock()

	result := &sandbox.CommandResult{
		Command:   command,
		StartTime: time.Now(),
		EndTime:   time.Now(),
	}
	if f.ExitCodeFor != nil {
		result.ExitCode = f.ExitCodeFor(command)
	}
	if f.OutputFor != nil {
		result.Output = f.OutputFor(command)
	}

	if !result.Successful() && (!f.building || opts.DemandSuccess) {
		return result, &sandbox.CommandError{Result: result}
	}
	return result, nil
}

func (f *FakeEnvironment) Close(context.Context) error {
	f.closed = true
	return nil
}

// Closed reports whether Close ran, for scoped-acquisition assertions.
func (f *FakeEnvironment) Closed() bool { return f.closed }

// Ran reports whether any executed command contains the substring.
func (f *FakeEnvironment) Ran(substring string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if strings.Contains(c, substring) {
			return true
		}
	}
	return false
}
