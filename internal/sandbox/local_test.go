package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/docharbor/docharbor/internal/errors"
)

type memRecorder struct {
	mu      sync.Mutex
	results []*CommandResult
}

func (m *memRecorder) RecordCommand(_ context.Context, _ string, r *CommandResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) RecordCommand(context.Context, string, *CommandResult) error {
	return errors.New("store unavailable")
}

func newLocal(t *testing.T, building bool, rec CommandRecorder) *LocalEnvironment {
	t.Helper()
	env := NewLocalEnvironment(rec, LocalOptions{
		BuildID:  "b-1",
		Building: building,
		Cwd:      t.TempDir(),
		BaseEnv:  map[string]string{"READTHEDOCS": "True"},
	})
	require.NoError(t, env.Start(context.Background()))
	t.Cleanup(func() { _ = env.Close(context.Background()) })
	return env
}

func TestRunCapturesResult(t *testing.T) {
	rec := &memRecorder{}
	env := newLocal(t, true, rec)

	res, err := env.Run(context.Background(), RunOptions{}, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
	assert.False(t, res.StartTime.IsZero())
	assert.False(t, res.EndTime.Before(res.StartTime))
	assert.Len(t, rec.results, 1)
}

func TestBuildingModeSwallowsFailure(t *testing.T) {
	env := newLocal(t, true, nil)

	res, err := env.Run(context.Background(), RunOptions{}, "false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Successful())
}

func TestCriticalModeRaisesFailure(t *testing.T) {
	env := newLocal(t, false, nil)

	res, err := env.Run(context.Background(), RunOptions{}, "false")
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	// The result is still fully populated on failure.
	assert.Equal(t, 1, res.ExitCode)
	assert.Same(t, res, cmdErr.Result)
}

func TestDemandSuccessOverridesBuildingMode(t *testing.T) {
	env := newLocal(t, true, nil)

	_, err := env.Run(context.Background(), RunOptions{DemandSuccess: true}, "false")
	require.Error(t, err)
}

func TestBaseEnvInjected(t *testing.T) {
	env := newLocal(t, true, nil)

	res, err := env.Run(context.Background(), RunOptions{Shell: true}, "echo $READTHEDOCS")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "True")
}

func TestEnvOverridesWin(t *testing.T) {
	env := newLocal(t, true, nil)

	res, err := env.Run(context.Background(),
		RunOptions{Shell: true, Env: map[string]string{"READTHEDOCS": "False"}},
		"echo $READTHEDOCS")
	require.NoError(t, err)
	assert.Contains(t, res.Output, "False")
}

// A broken recorder must never turn a successful command into a failure.
func TestRecorderFailureDoesNotFailRun(t *testing.T) {
	env := newLocal(t, true, failingRecorder{})

	res, err := env.Run(context.Background(), RunOptions{}, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestNoRecordSkipsRecorder(t *testing.T) {
	rec := &memRecorder{}
	env := newLocal(t, true, rec)

	_, err := env.Run(context.Background(), RunOptions{NoRecord: true}, "echo", "quiet")
	require.NoError(t, err)
	assert.Empty(t, rec.results)
}

func TestMissingBinaryIsEnvironmentError(t *testing.T) {
	env := newLocal(t, true, nil)

	_, err := env.Run(context.Background(), RunOptions{}, "definitely-not-a-binary-xyz")
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryEnvironment))
}

func TestRunBeforeStart(t *testing.T) {
	env := NewLocalEnvironment(nil, LocalOptions{})
	_, err := env.Run(context.Background(), RunOptions{}, "echo", "hi")
	require.Error(t, err)
}
