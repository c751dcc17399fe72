package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/store"
)

type fakeEnqueuer struct {
	jobs []*queue.Job
}

func (f *fakeEnqueuer) Enqueue(job *queue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeRemote struct {
	refs []store.RemoteRef
}

func (f *fakeRemote) ListRefs(context.Context, string) ([]store.RemoteRef, string, error) {
	return f.refs, "main", nil
}

func setupProcessor(t *testing.T) (*Processor, *store.Store, *fakeEnqueuer, Target) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := &model.Project{Slug: "demo", RepoURL: "https://example.com/demo.git", ExternalBuildsEnabled: true}
	require.NoError(t, s.CreateProject(context.Background(), p))
	i := &model.Integration{ProjectID: p.ID, Type: model.IntegrationGitHub, Secret: "s"}
	require.NoError(t, s.CreateIntegration(context.Background(), i))

	eq := &fakeEnqueuer{}
	proc := NewProcessor(s, eq, &fakeRemote{refs: []store.RemoteRef{{Name: "main"}}})
	return proc, s, eq, Target{Project: p, Integration: i}
}

func TestProcessTriggerBuild(t *testing.T) {
	proc, s, eq, target := setupProcessor(t)
	ctx := context.Background()
	require.NoError(t, s.CreateVersion(ctx, &model.Version{
		ProjectID: target.Project.ID, Identifier: "main", Type: model.VersionTypeBranch, Active: true,
	}))

	result, err := proc.Process(ctx, target, &Decision{
		Action: ActionTriggerBuild, VersionSlug: "main", Commit: "abc",
	})
	require.NoError(t, err)
	assert.True(t, result.BuildTriggered)
	assert.Equal(t, []string{"main"}, result.Versions)
	require.Len(t, eq.jobs, 1)
	assert.Equal(t, "abc", eq.jobs[0].Commit)

	build, err := s.GetBuild(ctx, eq.jobs[0].BuildID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildStateTriggered, build.State)
}

func TestProcessUnknownVersionIsAccepted(t *testing.T) {
	proc, _, eq, target := setupProcessor(t)

	result, err := proc.Process(context.Background(), target, &Decision{
		Action: ActionTriggerBuild, VersionSlug: "ghost",
	})
	require.NoError(t, err)
	assert.False(t, result.BuildTriggered)
	assert.Empty(t, eq.jobs)
}

func TestProcessExternalOpenAndClose(t *testing.T) {
	proc, s, eq, target := setupProcessor(t)
	ctx := context.Background()

	data := &model.ExternalVersionData{ID: "42", Commit: "abc", SourceBranch: "feat", BaseBranch: "main"}
	result, err := proc.Process(ctx, target, &Decision{Action: ActionTriggerExternal, External: data})
	require.NoError(t, err)
	assert.True(t, result.BuildTriggered)
	assert.Equal(t, []string{"42"}, result.Versions)
	require.Len(t, eq.jobs, 1)

	result, err = proc.Process(ctx, target, &Decision{
		Action: ActionCloseExternal, External: &model.ExternalVersionData{ID: "42"},
	})
	require.NoError(t, err)
	assert.False(t, result.BuildTriggered)

	v, err := s.GetVersion(ctx, target.Project.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, model.VersionStateClosed, v.State)
}

func TestProcessSyncVersions(t *testing.T) {
	proc, s, _, target := setupProcessor(t)
	ctx := context.Background()

	result, err := proc.Process(ctx, target, &Decision{Action: ActionSyncVersions})
	require.NoError(t, err)
	assert.False(t, result.BuildTriggered)
	assert.Equal(t, []string{"main"}, result.Versions)

	_, err = s.GetVersion(ctx, target.Project.ID, "main")
	require.NoError(t, err)
}

func TestProcessDefaultBranchFreshening(t *testing.T) {
	proc, s, _, target := setupProcessor(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, target, &Decision{Action: ActionNoOp, DefaultBranch: "main"})
	require.NoError(t, err)

	v, err := s.GetVersion(ctx, target.Project.ID, store.LatestVersionSlug)
	require.NoError(t, err)
	assert.Equal(t, "main", v.Identifier)
}
