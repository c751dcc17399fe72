// Package director orchestrates one documentation build end to end:
// checkout, environment setup, format builds, finalize. Phases run
// strictly in order, each gated on the previous one succeeding.
package director

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/docharbor/docharbor/internal/artifacts"
	"github.com/docharbor/docharbor/internal/buildconfig"
	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/events"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/observability"
	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/sandbox"
	"github.com/docharbor/docharbor/internal/vlock"
)

// EnvSpec describes one sandbox the director needs provisioned.
type EnvSpec struct {
	Name     string // container name hint
	Image    string
	Building bool // building mode: command failures captured, not raised
	BuildID  string
	BaseEnv  map[string]string
	Binds    []string

	// Hardened requests the extra isolation layer for builds combining
	// pinned tools with custom job hooks.
	Hardened bool
}

// EnvFactory constructs an unstarted sandbox for a spec. Production
// wiring returns docker environments; tests inject fakes.
type EnvFactory func(spec EnvSpec) sandbox.Environment

// BuildStore is the slice of the store the director reads and writes.
type BuildStore interface {
	GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error)
	GetVersion(ctx context.Context, projectID int64, slug string) (*model.Version, error)
	SetBuildState(ctx context.Context, id string, state model.BuildState) error
	FinishBuild(ctx context.Context, id string, success bool, errMsg, commit string) error
	UpdateVersion(ctx context.Context, v *model.Version) error
}

// Options wires the director's collaborators.
type Options struct {
	Store   BuildStore
	Locks   *vlock.Registry
	Envs    EnvFactory
	Cache   *artifacts.ToolCache
	Events  events.Publisher
	Metrics metrics.Recorder

	// CheckoutRoot is the host directory holding per-version checkouts,
	// bind-mounted into the sandboxes at the same path.
	CheckoutRoot string

	// VCSImage is the pinned image checkouts run in. Deliberately
	// independent of the user's build image so cloning always happens in
	// a trusted-certificate environment.
	VCSImage string

	// BuildImagePattern renders the build image from the configured OS,
	// e.g. "docharbor/build:%s".
	BuildImagePattern string

	CloneDepth int
}

// Director runs builds. It implements queue.Runner.
type Director struct {
	opts Options
}

func New(opts Options) *Director {
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.BuildImagePattern == "" {
		opts.BuildImagePattern = "docharbor/build:%s"
	}
	if opts.CloneDepth == 0 {
		opts.CloneDepth = 50
	}
	return &Director{opts: opts}
}

// buildState carries everything resolved during a run between phases.
type buildState struct {
	project *model.Project
	version *model.Version
	job     *queue.Job

	checkoutPath string
	outputPath   string
	envPath      string
	cachePath    string

	config  *buildconfig.BuildConfig
	commit  string
	outcome artifacts.FormatOutcome

	// env is the build sandbox, opened during environment setup and
	// closed by execute once the build phase is done.
	env sandbox.Environment
}

// Run executes one build. Version-locked contention returns a retryable
// error the queue backs off on; everything else finishes the build with
// a user-facing message.
func (d *Director) Run(ctx context.Context, job *queue.Job) error {
	project, err := d.opts.Store.GetProjectBySlug(ctx, job.ProjectSlug)
	if err != nil {
		return fmt.Errorf("resolve project %s: %w", job.ProjectSlug, err)
	}
	version, err := d.opts.Store.GetVersion(ctx, project.ID, job.VersionSlug)
	if err != nil {
		return fmt.Errorf("resolve version %s: %w", job.VersionSlug, err)
	}

	st := &buildState{
		project:      project,
		version:      version,
		job:          job,
		checkoutPath: filepath.Join(d.opts.CheckoutRoot, project.Slug, version.Slug),
	}
	st.outputPath = filepath.Join(st.checkoutPath, "_docharbor")
	st.envPath = filepath.Join(d.opts.CheckoutRoot, project.Slug, "envs", version.Slug)
	st.cachePath = filepath.Join(d.opts.CheckoutRoot, project.Slug, "tool-cache")

	// Builds of the same version are serialized by a non-blocking lock on
	// the checkout path. Contention fails fast and the queue retries.
	lease, err := d.opts.Locks.Acquire(st.checkoutPath, job.BuildID)
	if err != nil {
		return err
	}
	defer lease.Release()

	ctx = observability.WithProject(ctx, project.Slug)
	ctx = observability.WithVersion(ctx, version.Slug)
	ctx = observability.WithBuildID(ctx, job.BuildID)

	_ = d.opts.Events.PublishTriggered(events.BuildEvent{
		BuildID: job.BuildID, Project: project.Slug, Version: version.Slug, Commit: job.Commit,
	})

	start := time.Now()
	buildErr := d.execute(ctx, st)
	d.opts.Metrics.ObserveBuildDuration(time.Since(start))

	success := buildErr == nil
	errMsg := ""
	if buildErr != nil {
		errMsg = berrors.UserMessage(buildErr)
		d.opts.Metrics.IncBuildOutcome("failed")
	} else {
		d.opts.Metrics.IncBuildOutcome("success")
	}

	if err := d.opts.Store.FinishBuild(ctx, job.BuildID, success, errMsg, st.commit); err != nil {
		slog.ErrorContext(ctx, "Failed to finish build record", logfields.Error(err))
	}
	if success {
		st.version.Built = true
		if st.config != nil {
			st.version.DocumentationType = string(st.config.Doctype)
		}
		if err := d.opts.Store.UpdateVersion(ctx, st.version); err != nil {
			slog.ErrorContext(ctx, "Failed to update version after build", logfields.Error(err))
		}
	}

	_ = d.opts.Events.PublishFinished(events.BuildEvent{
		BuildID: job.BuildID, Project: project.Slug, Version: version.Slug,
		Commit: st.commit, Success: success, Error: errMsg, Outcome: &st.outcome,
	})

	slog.InfoContext(ctx, "Build finished",
		slog.Bool("success", success),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return buildErr
}

// execute runs the phase pipeline with independent containment around
// the setup phases and the build phase. A panic in either is converted
// into a generic environment failure; the raw cause is logged, never
// surfaced to the user.
func (d *Director) execute(ctx context.Context, st *buildState) error {
	defer func() {
		if st.env != nil {
			if err := st.env.Close(context.WithoutCancel(ctx)); err != nil {
				slog.ErrorContext(ctx, "Failed to close build environment", logfields.Error(err))
			}
		}
	}()

	if err := d.contain(ctx, "setup", func() error {
		if err := d.checkout(ctx, st); err != nil {
			return err
		}
		return d.setupEnvironment(ctx, st)
	}); err != nil {
		return err
	}

	return d.contain(ctx, "build", func() error {
		return d.buildFormats(ctx, st)
	})
}

func (d *Director) contain(ctx context.Context, phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Unhandled failure in build phase",
				logfields.Phase(phase), slog.Any("panic", r))
			err = berrors.EnvironmentError("there was a problem with the build environment", nil)
		}
	}()
	return fn()
}

func (d *Director) timedPhase(ctx context.Context, name string, state model.BuildState, st *buildState, fn func() error) error {
	if err := d.opts.Store.SetBuildState(ctx, st.job.BuildID, state); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	d.opts.Metrics.ObservePhaseDuration(name, time.Since(start))
	return err
}

// buildEnvVars is the variable set exposed to every executed command in
// the build sandbox.
func (d *Director) buildEnvVars(st *buildState) map[string]string {
	return map[string]string{
		"READTHEDOCS":              "True",
		"READTHEDOCS_PROJECT":      st.project.Slug,
		"READTHEDOCS_VERSION":      st.version.Slug,
		"READTHEDOCS_VERSION_TYPE": string(st.version.Type),
		"READTHEDOCS_VERSION_NAME": st.version.Identifier,
		"READTHEDOCS_LANGUAGE":     st.project.Language,
		"READTHEDOCS_OUTPUT":       st.outputPath,
	}
}

func (d *Director) buildImage(cfg *buildconfig.BuildConfig) string {
	return fmt.Sprintf(d.opts.BuildImagePattern, cfg.OS)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return berrors.EnvironmentError("could not create build directory", err).
			WithContext("path", path)
	}
	return nil
}
