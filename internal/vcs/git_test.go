package vcs

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docharbor/docharbor/internal/buildconfig"
	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/sandbox"
)

func localEnv(t *testing.T, dir string) sandbox.Environment {
	t.Helper()
	env := sandbox.NewLocalEnvironment(nil, sandbox.LocalOptions{Building: true, Cwd: dir})
	require.NoError(t, env.Start(context.Background()))
	t.Cleanup(func() { _ = env.Close(context.Background()) })
	return env
}

// initUpstream creates a local git repository with one commit on main and
// one tag, usable as a clone source via its path.
func initUpstream(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		cmd.Env = append(cmd.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%s: %s", args, out)
	}
	run("git", "init", "-b", "main", ".")
	run("sh", "-c", "echo docs > index.rst")
	run("git", "add", ".")
	run("git", "commit", "-m", "initial")
	run("git", "tag", "v1.0")
	return dir
}

func TestUnknownRepoTypeFailsFast(t *testing.T) {
	_, err := ForType(model.VCSType("svn"), nil, Options{})
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryRepository))
}

func TestCloneAndCheckoutBranch(t *testing.T) {
	upstream := initUpstream(t)
	work := t.TempDir()

	backend, err := ForType(model.VCSGit, localEnv(t, work), Options{RepoURL: upstream, WorkDir: work})
	require.NoError(t, err)

	require.NoError(t, backend.Clone(context.Background()))

	commit, err := backend.Checkout(context.Background(), "main")
	require.NoError(t, err)
	assert.Len(t, commit, 40)
}

func TestCheckoutTag(t *testing.T) {
	upstream := initUpstream(t)
	work := t.TempDir()

	backend, err := ForType(model.VCSGit, localEnv(t, work), Options{RepoURL: upstream, WorkDir: work})
	require.NoError(t, err)
	require.NoError(t, backend.Clone(context.Background()))

	commit, err := backend.Checkout(context.Background(), "v1.0")
	require.NoError(t, err)
	assert.Len(t, commit, 40)
}

func TestCheckoutMissingRevision(t *testing.T) {
	upstream := initUpstream(t)
	work := t.TempDir()

	backend, err := ForType(model.VCSGit, localEnv(t, work), Options{RepoURL: upstream, WorkDir: work})
	require.NoError(t, err)
	require.NoError(t, backend.Clone(context.Background()))

	_, err = backend.Checkout(context.Background(), "no-such-branch")
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryRepository))
}

func TestSubmodulesDisabledIsNoop(t *testing.T) {
	backend := newGitBackend(nil, Options{})
	require.NoError(t, backend.UpdateSubmodules(context.Background(), buildconfig.SubmodulesConfig{}))
}

func TestListRemoteRefs(t *testing.T) {
	upstream := initUpstream(t)

	refs, head, err := ListRemoteRefs(context.Background(), upstream, nil)
	require.NoError(t, err)
	assert.Equal(t, "main", head)

	var names []string
	var sawTag bool
	for _, r := range refs {
		names = append(names, r.Name)
		if r.IsTag {
			sawTag = true
		}
	}
	assert.Contains(t, names, "main")
	assert.Contains(t, names, "v1.0")
	assert.True(t, sawTag)
}
