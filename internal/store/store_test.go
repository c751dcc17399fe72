package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/sandbox"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) *model.Project {
	t.Helper()
	p := &model.Project{Slug: "demo", RepoURL: "https://example.com/demo.git"}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	require.NotZero(t, p.ID)

	got, err := s.GetProjectBySlug(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, model.VCSGit, got.RepoType)
	assert.Equal(t, "en", got.Language)

	_, err = s.GetProjectBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVersionLifecycle(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	v := &model.Version{ProjectID: p.ID, Identifier: "feature/new-docs", Type: model.VersionTypeBranch, Active: true}
	require.NoError(t, s.CreateVersion(ctx, v))
	assert.Equal(t, "feature-new-docs", v.Slug)

	got, err := s.GetVersion(ctx, p.ID, "feature-new-docs")
	require.NoError(t, err)
	assert.Equal(t, "feature/new-docs", got.Identifier)

	got.Built = true
	got.DocumentationType = "sphinx"
	require.NoError(t, s.UpdateVersion(ctx, got))

	got, err = s.GetVersion(ctx, p.ID, "feature-new-docs")
	require.NoError(t, err)
	assert.True(t, got.Built)
	assert.Equal(t, "sphinx", got.DocumentationType)
}

func TestExternalVersionOpenClose(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	data := model.ExternalVersionData{ID: "42", Commit: "abc123", SourceBranch: "feat", BaseBranch: "main"}
	v, err := s.GetOrCreateExternalVersion(ctx, p.ID, data)
	require.NoError(t, err)
	assert.Equal(t, model.VersionStateOpen, v.State)
	assert.True(t, v.Active)

	// Subsequent synchronize refreshes the commit on the same row.
	data.Commit = "def456"
	v2, err := s.GetOrCreateExternalVersion(ctx, p.ID, data)
	require.NoError(t, err)
	assert.Equal(t, v.ID, v2.ID)
	assert.Equal(t, "def456", v2.Identifier)

	closed, err := s.CloseExternalVersion(ctx, p.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, model.VersionStateClosed, closed.State)
	assert.False(t, closed.Active)

	// The row survives closing; cleanup is deferred elsewhere.
	got, err := s.GetVersion(ctx, p.ID, "42")
	require.NoError(t, err)
	assert.Equal(t, model.VersionStateClosed, got.State)
}

func TestSyncVersions(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	added, err := s.SyncVersions(ctx, p.ID, []RemoteRef{
		{Name: "main"},
		{Name: "v1.0", IsTag: true},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "v1.0"}, added)

	// A vanished branch is removed, a new tag is added.
	added, err = s.SyncVersions(ctx, p.ID, []RemoteRef{
		{Name: "main"},
		{Name: "v1.1", IsTag: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.1"}, added)

	_, err = s.GetVersion(ctx, p.ID, "v1.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncVersionsKeepsExternal(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	_, err := s.GetOrCreateExternalVersion(ctx, p.ID, model.ExternalVersionData{ID: "7", Commit: "c"})
	require.NoError(t, err)

	_, err = s.SyncVersions(ctx, p.ID, []RemoteRef{{Name: "main"}})
	require.NoError(t, err)

	_, err = s.GetVersion(ctx, p.ID, "7")
	require.NoError(t, err)
}

func TestUpdateLatestIdentifier(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	// Creates latest when missing.
	require.NoError(t, s.UpdateLatestIdentifier(ctx, p.ID, "main"))
	v, err := s.GetVersion(ctx, p.ID, LatestVersionSlug)
	require.NoError(t, err)
	assert.Equal(t, "main", v.Identifier)

	require.NoError(t, s.UpdateLatestIdentifier(ctx, p.ID, "trunk"))
	v, err = s.GetVersion(ctx, p.ID, LatestVersionSlug)
	require.NoError(t, err)
	assert.Equal(t, "trunk", v.Identifier)
}

func TestBuildLifecycle(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	v := &model.Version{ProjectID: p.ID, Identifier: "main", Type: model.VersionTypeBranch}
	require.NoError(t, s.CreateVersion(ctx, v))

	b, err := s.CreateBuild(ctx, p.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BuildStateTriggered, b.State)

	require.NoError(t, s.SetBuildState(ctx, b.ID, model.BuildStateCloning))
	require.NoError(t, s.SetBuildState(ctx, b.ID, model.BuildStateBuilding))
	require.NoError(t, s.FinishBuild(ctx, b.ID, true, "", "abc123"))

	got, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "abc123", got.Commit)
	assert.True(t, got.Finished())
	require.NotNil(t, got.EndedAt)

	// Finished is terminal.
	err = s.SetBuildState(ctx, b.ID, model.BuildStateBuilding)
	require.Error(t, err)
}

func TestRecordAndListCommands(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	v := &model.Version{ProjectID: p.ID, Identifier: "main", Type: model.VersionTypeBranch}
	require.NoError(t, s.CreateVersion(ctx, v))
	b, err := s.CreateBuild(ctx, p.ID, v.ID)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.RecordCommand(ctx, b.ID, &sandbox.CommandResult{
		Command: "git clone", Output: "Cloning...", ExitCode: 0, StartTime: now, EndTime: now,
	}))
	require.NoError(t, s.RecordCommand(ctx, b.ID, &sandbox.CommandResult{
		Command: "pip install", Output: "error", ExitCode: 1, StartTime: now, EndTime: now,
	}))

	cmds, err := s.ListCommands(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "git clone", cmds[0].Command)
	assert.Equal(t, 1, cmds[1].ExitCode)
}

func TestSweepStaleBuilds(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	v := &model.Version{ProjectID: p.ID, Identifier: "main", Type: model.VersionTypeBranch}
	require.NoError(t, s.CreateVersion(ctx, v))
	b, err := s.CreateBuild(ctx, p.ID, v.ID)
	require.NoError(t, err)

	n, err := s.SweepStaleBuilds(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetBuild(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Finished())
	assert.False(t, got.Success)
	assert.Contains(t, got.Error, "time budget")
}

func TestIntegrations(t *testing.T) {
	s := newStore(t)
	p := seedProject(t, s)
	ctx := context.Background()

	i := &model.Integration{ProjectID: p.ID, Type: model.IntegrationGitHub, Secret: "s3cr3t"}
	require.NoError(t, s.CreateIntegration(ctx, i))

	got, err := s.GetIntegration(ctx, i.ID)
	require.NoError(t, err)
	assert.True(t, got.HasSecret())

	byType, err := s.GetIntegrationForProject(ctx, p.ID, model.IntegrationGitHub)
	require.NoError(t, err)
	assert.Equal(t, i.ID, byType.ID)

	_, err = s.GetIntegrationForProject(ctx, p.ID, model.IntegrationGitLab)
	assert.ErrorIs(t, err, ErrNotFound)
}
