package director

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docharbor/docharbor/internal/artifacts"
	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/events"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/sandbox"
	"github.com/docharbor/docharbor/internal/sandbox/sandboxtest"
	"github.com/docharbor/docharbor/internal/store"
	"github.com/docharbor/docharbor/internal/vlock"
)

type capturePublisher struct {
	mu        sync.Mutex
	triggered []events.BuildEvent
	finished  []events.BuildEvent
}

func (c *capturePublisher) PublishTriggered(ev events.BuildEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggered = append(c.triggered, ev)
	return nil
}

func (c *capturePublisher) PublishFinished(ev events.BuildEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, ev)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

// harness wires a director against fakes and an in-memory store.
type harness struct {
	dir      *Director
	store    *store.Store
	locks    *vlock.Registry
	events   *capturePublisher
	project  *model.Project
	version  *model.Version
	job      *queue.Job
	root     string
	vcsEnv   *sandboxtest.FakeEnvironment
	buildEnv *sandboxtest.FakeEnvironment

	buildEnvRequests []EnvSpec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		root:     t.TempDir(),
		locks:    vlock.NewRegistry(time.Hour),
		events:   &capturePublisher{},
		vcsEnv:   sandboxtest.NewCriticalFake(),
		buildEnv: sandboxtest.NewFake(),
	}
	h.vcsEnv.OutputFor = func(command string) string {
		if strings.Contains(command, "rev-parse") {
			return "abc123\n"
		}
		return ""
	}

	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	h.store = s

	ctx := context.Background()
	h.project = &model.Project{Slug: "demo", RepoURL: "https://example.com/demo.git"}
	require.NoError(t, s.CreateProject(ctx, h.project))
	h.version = &model.Version{ProjectID: h.project.ID, Identifier: "main", Type: model.VersionTypeBranch, Active: true}
	require.NoError(t, s.CreateVersion(ctx, h.version))

	build, err := s.CreateBuild(ctx, h.project.ID, h.version.ID)
	require.NoError(t, err)
	h.job = &queue.Job{
		BuildID: build.ID, Trigger: queue.TriggerWebhook,
		ProjectSlug: h.project.Slug, VersionSlug: h.version.Slug,
	}

	h.dir = New(Options{
		Store:  s,
		Locks:  h.locks,
		Events: h.events,
		Envs: func(spec EnvSpec) sandbox.Environment {
			if strings.HasPrefix(spec.Name, "vcs-") {
				return h.vcsEnv
			}
			h.buildEnvRequests = append(h.buildEnvRequests, spec)
			return h.buildEnv
		},
		CheckoutRoot: h.root,
		VCSImage:     "docharbor/vcs:stable",
	})
	return h
}

func (h *harness) checkoutPath() string {
	return filepath.Join(h.root, h.project.Slug, h.version.Slug)
}

func (h *harness) writeConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(h.checkoutPath(), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(h.checkoutPath(), ".docharbor.yaml"), []byte(content), 0o644))
}

func TestSuccessfulBuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.dir.Run(ctx, h.job))

	assert.True(t, h.vcsEnv.Ran("git clone"))
	assert.True(t, h.buildEnv.Ran("sphinx"))

	build, err := h.store.GetBuild(ctx, h.job.BuildID)
	require.NoError(t, err)
	assert.True(t, build.Success)
	assert.Equal(t, "abc123", build.Commit)
	assert.True(t, build.Finished())

	version, err := h.store.GetVersion(ctx, h.project.ID, h.version.Slug)
	require.NoError(t, err)
	assert.True(t, version.Built)
	assert.Equal(t, "sphinx", version.DocumentationType)

	// Metadata file is regenerated into the html output.
	metadata := filepath.Join(h.checkoutPath(), "_docharbor", "html", artifacts.MetadataFileName)
	data, err := os.ReadFile(metadata)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"commit": "abc123"`)

	require.Len(t, h.events.finished, 1)
	assert.True(t, h.events.finished[0].Success)
	require.NotNil(t, h.events.finished[0].Outcome)
	assert.True(t, h.events.finished[0].Outcome.HTML)
}

func TestCheckoutFailureSkipsBuilders(t *testing.T) {
	h := newHarness(t)
	h.vcsEnv.ExitCodeFor = func(command string) int {
		if strings.Contains(command, "git clone") {
			return 1
		}
		return 0
	}
	h.vcsEnv.OutputFor = func(string) string { return "fatal: repository not found" }

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryRepository))

	// No build environment is ever provisioned, no builder runs.
	assert.Empty(t, h.buildEnvRequests)
	assert.False(t, h.buildEnv.Ran("sphinx"))

	build, err := h.store.GetBuild(context.Background(), h.job.BuildID)
	require.NoError(t, err)
	assert.False(t, build.Success)
	assert.True(t, build.Finished())
	assert.Contains(t, build.Error, "not found")

	require.Len(t, h.events.finished, 1)
	assert.False(t, h.events.finished[0].Outcome.HTML)
}

func TestHTMLFailureStopsRemainingFormats(t *testing.T) {
	h := newHarness(t)
	h.project.EnablePDFBuild = true
	require.NoError(t, h.store.UpdateProject(context.Background(), h.project))
	h.buildEnv.ExitCodeFor = func(command string) int {
		if strings.Contains(command, "-b html") {
			return 1
		}
		return 0
	}

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)

	assert.False(t, h.buildEnv.Ran("latexmk"))
	assert.False(t, h.buildEnv.Ran("zip"))
}

func TestBestEffortFormatFailure(t *testing.T) {
	h := newHarness(t)
	h.buildEnv.ExitCodeFor = func(command string) int {
		if strings.Contains(command, "-b singlehtml") {
			return 1
		}
		return 0
	}

	require.NoError(t, h.dir.Run(context.Background(), h.job))

	build, err := h.store.GetBuild(context.Background(), h.job.BuildID)
	require.NoError(t, err)
	assert.True(t, build.Success)

	require.Len(t, h.events.finished, 1)
	outcome := h.events.finished[0].Outcome
	assert.True(t, outcome.HTML)
	assert.False(t, outcome.LocalMedia)
}

func TestVersionLockedFailsFast(t *testing.T) {
	h := newHarness(t)
	lease, err := h.locks.Acquire(h.checkoutPath(), "other-build")
	require.NoError(t, err)
	defer lease.Release()

	err = h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryLocked))
	assert.True(t, berrors.IsRetryable(err))

	// The lock holder is untouched and no work happened.
	assert.False(t, h.vcsEnv.Ran("git clone"))
}

func TestHookReplacesDefaultBehavior(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  jobs:
    create_environment:
      - echo custom environment
`)

	require.NoError(t, h.dir.Run(context.Background(), h.job))

	assert.True(t, h.buildEnv.Ran("echo custom environment"))
	assert.False(t, h.buildEnv.Ran("virtualenv"))
}

func TestPostCheckoutRunsInVCSEnvironment(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  jobs:
    post_checkout:
      - git lfs install
`)

	require.NoError(t, h.dir.Run(context.Background(), h.job))

	assert.True(t, h.vcsEnv.Ran("git lfs install"))
	assert.False(t, h.buildEnv.Ran("git lfs install"))
}

func TestExternalVersionSkipsDownloadables(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.project.EnablePDFBuild = true
	require.NoError(t, h.store.UpdateProject(ctx, h.project))

	external, err := h.store.GetOrCreateExternalVersion(ctx, h.project.ID,
		model.ExternalVersionData{ID: "42", Commit: "abc123"})
	require.NoError(t, err)
	build, err := h.store.CreateBuild(ctx, h.project.ID, external.ID)
	require.NoError(t, err)
	h.job = &queue.Job{BuildID: build.ID, ProjectSlug: h.project.Slug, VersionSlug: external.Slug}

	require.NoError(t, h.dir.Run(ctx, h.job))

	assert.True(t, h.buildEnv.Ran("-b html"))
	assert.False(t, h.buildEnv.Ran("latexmk"))
	assert.False(t, h.buildEnv.Ran("zip"))
}

func TestEnvironmentsClosedOnAllPaths(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.dir.Run(context.Background(), h.job))
	assert.True(t, h.vcsEnv.Closed())
	assert.True(t, h.buildEnv.Closed())
}

func TestEnvironmentsClosedOnFailure(t *testing.T) {
	h := newHarness(t)
	h.buildEnv.ExitCodeFor = func(command string) int {
		if strings.Contains(command, "-b html") {
			return 1
		}
		return 0
	}
	require.Error(t, h.dir.Run(context.Background(), h.job))
	assert.True(t, h.vcsEnv.Closed())
	assert.True(t, h.buildEnv.Closed())
}

func TestRawCommandsMode(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  commands:
    - make docs
`)
	// The commands run in the fake, so the output has to exist already.
	require.NoError(t, os.MkdirAll(filepath.Join(h.checkoutPath(), "_docharbor", "html"), 0o755))

	require.NoError(t, h.dir.Run(context.Background(), h.job))

	assert.True(t, h.buildEnv.Ran("make docs"))
	assert.False(t, h.buildEnv.Ran("sphinx"))
}

// Raw-commands builds still get apt packages and pinned tools, but none
// of the default language setup: no virtualenv, no requirements install.
func TestRawCommandsSkipLanguageSetup(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  tools:
    python: "3.11"
  commands:
    - make docs
`)
	require.NoError(t, os.MkdirAll(filepath.Join(h.checkoutPath(), "_docharbor", "html"), 0o755))

	require.NoError(t, h.dir.Run(context.Background(), h.job))

	assert.True(t, h.buildEnv.Ran("asdf install python"))
	assert.False(t, h.buildEnv.Ran("virtualenv"))
	assert.False(t, h.buildEnv.Ran("pip install"))
}

// A metadata write failure surfaces the underlying filesystem error, not
// just the artifact-category wrapper.
func TestBuildMetadataWriteFailureCarriesCause(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  commands:
    - make docs
`)
	// A directory squatting on the metadata file name makes the write fail.
	require.NoError(t, os.MkdirAll(
		filepath.Join(h.checkoutPath(), "_docharbor", "html", artifacts.MetadataFileName), 0o755))

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryArtifact))
	var pathErr *os.PathError
	assert.True(t, errors.As(err, &pathErr))
}

func TestRawCommandsLegacyOutputDirFailsFast(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  commands:
    - make docs
`)
	require.NoError(t, os.MkdirAll(filepath.Join(h.checkoutPath(), "_build", "html"), 0o755))

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryBuildUser))
	assert.False(t, h.buildEnv.Ran("make docs"))
}

func TestRawCommandsMissingOutputIsUserError(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  commands:
    - make docs
`)

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryBuildUser))
}

func TestMalformedConfigIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, "formats: [pdf\n")

	err := h.dir.Run(context.Background(), h.job)
	require.Error(t, err)
	assert.True(t, berrors.IsCategory(err, berrors.CategoryConfig))

	build, err := h.store.GetBuild(context.Background(), h.job.BuildID)
	require.NoError(t, err)
	// Configuration errors surface the parser diagnostic to the user.
	assert.Contains(t, build.Error, "configuration")
}

func TestAptPackagesRunPrivileged(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  apt_packages:
    - graphviz
`)

	require.NoError(t, h.dir.Run(context.Background(), h.job))
	assert.True(t, h.buildEnv.Ran("apt-get install"))
	assert.True(t, h.buildEnv.Ran("graphviz"))
}

func TestPinnedToolsRequestHardenedSandbox(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(t, `
version: 2
build:
  os: ubuntu-22.04
  tools:
    python: "3.11"
  jobs:
    pre_build:
      - echo hook
`)

	require.NoError(t, h.dir.Run(context.Background(), h.job))
	require.Len(t, h.buildEnvRequests, 1)
	assert.True(t, h.buildEnvRequests[0].Hardened)
	assert.True(t, h.buildEnv.Ran("asdf install python"))
}
