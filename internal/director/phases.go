package director

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docharbor/docharbor/internal/artifacts"
	"github.com/docharbor/docharbor/internal/buildconfig"
	"github.com/docharbor/docharbor/internal/doctool"
	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/langenv"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/observability"
	"github.com/docharbor/docharbor/internal/sandbox"
	"github.com/docharbor/docharbor/internal/vcs"
)

// legacyOutputDir is the historically hardcoded output location some
// projects still write to. Raw-commands builds fail fast when it exists
// rather than silently producing wrong artifacts.
const legacyOutputDir = "_build/html"

// checkout runs the VCS phase: clone/update the repository in a pinned
// trusted environment, resolve the commit, and load the configuration
// from the checked-out tree.
func (d *Director) checkout(ctx context.Context, st *buildState) error {
	ctx = observability.WithPhase(ctx, "vcs_checkout")
	return d.timedPhase(ctx, "vcs_checkout", model.BuildStateCloning, st, func() error {
		if err := ensureDir(st.checkoutPath); err != nil {
			return err
		}

		env := d.opts.Envs(EnvSpec{
			Name:    "vcs-" + st.job.BuildID,
			Image:   d.opts.VCSImage,
			BuildID: st.job.BuildID,
			BaseEnv: map[string]string{"GIT_TERMINAL_PROMPT": "0"},
			Binds:   []string{st.checkoutPath + ":" + st.checkoutPath},
		})
		if err := env.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := env.Close(context.WithoutCancel(ctx)); err != nil {
				slog.ErrorContext(ctx, "Failed to close VCS environment", logfields.Error(err))
			}
		}()

		backend, err := vcs.ForType(st.project.RepoType, env, vcs.Options{
			RepoURL: st.project.RepoURL,
			WorkDir: st.checkoutPath,
			Depth:   d.opts.CloneDepth,
		})
		if err != nil {
			return err
		}

		if err := backend.Clone(ctx); err != nil {
			return err
		}

		// An explicit commit from the trigger wins over the version's
		// stored identifier.
		identifier := st.version.Identifier
		if st.job.Commit != "" {
			identifier = st.job.Commit
		}
		commit, err := backend.Checkout(ctx, identifier)
		if err != nil {
			return err
		}
		st.commit = commit

		// The configuration must come from the checked-out tree, never be
		// assumed in advance.
		cfg, err := buildconfig.Load(st.checkoutPath, projectDefaults(st.project))
		if err != nil {
			return err
		}
		st.config = cfg

		if cfg.Submodules.Enabled() && backend.SupportsSubmodules() {
			if err := backend.UpdateSubmodules(ctx, cfg.Submodules); err != nil {
				return err
			}
		}

		// The checkout-stage hook runs in the VCS environment so it never
		// sees build-stage privileges.
		return d.runHook(ctx, env, st, buildconfig.PhasePostCheckout)
	})
}

// setupEnvironment provisions the build sandbox and installs system
// packages, pinned build tools, and the language environment. The
// sandbox stays open for the build phase; execute closes it.
func (d *Director) setupEnvironment(ctx context.Context, st *buildState) error {
	ctx = observability.WithPhase(ctx, "environment_setup")
	return d.timedPhase(ctx, "environment_setup", model.BuildStateInstalling, st, func() error {
		for _, dir := range []string{st.outputPath, st.envPath, st.cachePath} {
			if err := ensureDir(dir); err != nil {
				return err
			}
		}

		env := d.opts.Envs(EnvSpec{
			Name:     "build-" + st.job.BuildID,
			Image:    d.buildImage(st.config),
			Building: true,
			BuildID:  st.job.BuildID,
			BaseEnv:  d.buildEnvVars(st),
			Binds: []string{
				st.checkoutPath + ":" + st.checkoutPath,
				st.envPath + ":" + st.envPath,
				st.cachePath + ":" + st.cachePath,
			},
			Hardened: hardenedSandbox(st.config),
		})
		if err := env.Start(ctx); err != nil {
			return err
		}
		st.env = env

		if err := d.runHook(ctx, env, st, buildconfig.PhasePreSystemDependencies); err != nil {
			return err
		}
		if len(st.config.AptPackages) > 0 {
			if err := d.installAptPackages(ctx, env, st); err != nil {
				return err
			}
		}
		if err := d.runHook(ctx, env, st, buildconfig.PhasePostSystemDependencies); err != nil {
			return err
		}

		lenv := langenv.Select(langenv.Options{
			Sandbox:      env,
			Config:       st.config,
			Cache:        d.opts.Cache,
			Metrics:      d.opts.Metrics,
			CheckoutPath: st.checkoutPath,
			EnvPath:      st.envPath,
			CachePath:    st.cachePath,
		})

		if len(st.config.Tools) > 0 {
			if err := lenv.InstallBuildTools(ctx); err != nil {
				return err
			}
		}

		// Raw-commands builds own their environment beyond this point:
		// apt packages and pinned tools are installed, everything else is
		// up to build.commands.
		if st.config.RawCommandsMode() {
			return nil
		}

		if err := d.runHook(ctx, env, st, buildconfig.PhasePreCreateEnvironment); err != nil {
			return err
		}
		if spec := st.config.Job(buildconfig.PhaseCreateEnvironment); spec.Kind == buildconfig.JobUserOverride {
			if err := d.runCommands(ctx, env, st, spec.Commands); err != nil {
				return err
			}
		} else if err := lenv.SetupBase(ctx); err != nil {
			return err
		}
		if err := d.runHook(ctx, env, st, buildconfig.PhasePostCreateEnvironment); err != nil {
			return err
		}

		if err := d.runHook(ctx, env, st, buildconfig.PhasePreInstall); err != nil {
			return err
		}
		if spec := st.config.Job(buildconfig.PhaseInstall); spec.Kind == buildconfig.JobUserOverride {
			if err := d.runCommands(ctx, env, st, spec.Commands); err != nil {
				return err
			}
		} else {
			if err := lenv.InstallCoreRequirements(ctx); err != nil {
				return err
			}
			if err := lenv.InstallRequirements(ctx); err != nil {
				return err
			}
		}
		if err := d.runHook(ctx, env, st, buildconfig.PhasePostInstall); err != nil {
			return err
		}

		if err := lenv.ListPackagesInstalled(ctx); err != nil {
			// Diagnostic listing only.
			slog.WarnContext(ctx, "Could not list installed packages", logfields.Error(err))
		}
		return nil
	})
}

// installAptPackages is the only phase running privileged, and it is
// never exposed to user override.
func (d *Director) installAptPackages(ctx context.Context, env sandbox.Environment, st *buildState) error {
	if _, err := env.Run(ctx, sandbox.RunOptions{
		User:          "root",
		DemandSuccess: true,
	}, "apt-get", "update", "--assume-yes", "--quiet"); err != nil {
		return err
	}
	args := append([]string{"apt-get", "install", "--assume-yes", "--quiet", "--no-install-recommends"},
		st.config.AptPackages...)
	_, err := env.Run(ctx, sandbox.RunOptions{
		User:          "root",
		DemandSuccess: true,
	}, args...)
	return err
}

// buildFormats runs the documentation builders under the per-format
// failure policy, or the raw build commands when configured.
func (d *Director) buildFormats(ctx context.Context, st *buildState) error {
	ctx = observability.WithPhase(ctx, "build_formats")
	return d.timedPhase(ctx, "build_formats", model.BuildStateBuilding, st, func() error {
		if st.config.RawCommandsMode() {
			return d.runRawCommands(ctx, st)
		}

		if err := d.runHook(ctx, st.env, st, buildconfig.PhasePreBuild); err != nil {
			return err
		}

		opts := doctool.Options{
			Sandbox:      st.env,
			Config:       st.config,
			CheckoutPath: st.checkoutPath,
			OutputPath:   st.outputPath,
			EnvPath:      st.envPath,
			ProjectSlug:  st.project.Slug,
			VersionSlug:  st.version.Slug,
			CanonicalURL: st.project.CanonicalURL,
		}

		htmlBuilder, err := doctool.New(st.config.Doctype, doctool.FormatHTML, opts)
		if err != nil {
			return err
		}
		ok, err := doctool.RunFormat(ctx, doctool.FormatHTML, htmlBuilder, d.opts.Metrics)
		if err != nil {
			// HTML is the primary builder; its failure skips the rest.
			return err
		}
		st.outcome.HTML = ok
		st.outcome.Search = ok

		// Downloadable formats are never built for external versions:
		// preview builds do not need them.
		if !st.version.IsExternal() && st.config.Doctype != buildconfig.DoctypeMkDocs {
			if st.config.HasFormat(buildconfig.FormatHTMLZip) {
				st.outcome.LocalMedia = d.runBestEffort(ctx, doctool.FormatLocalMedia, opts)
			}
			if st.config.HasFormat(buildconfig.FormatPDF) {
				st.outcome.PDF = d.runBestEffort(ctx, doctool.FormatPDF, opts)
			}
			if st.config.HasFormat(buildconfig.FormatEpub) {
				st.outcome.Epub = d.runBestEffort(ctx, doctool.FormatEpub, opts)
			}
		}

		if err := d.runHook(ctx, st.env, st, buildconfig.PhasePostBuild); err != nil {
			return err
		}

		return d.writeBuildMetadata(st)
	})
}

func (d *Director) runBestEffort(ctx context.Context, format doctool.Format, opts doctool.Options) bool {
	b, err := doctool.New(opts.Config.Doctype, format, opts)
	if err != nil {
		slog.WarnContext(ctx, "No builder for format",
			logfields.Format(string(format)), logfields.Error(err))
		return false
	}
	ok, err := doctool.RunFormat(ctx, format, b, d.opts.Metrics)
	if err != nil {
		// Non-fatal formats never return errors; keep the guard anyway.
		slog.WarnContext(ctx, "Format build failed",
			logfields.Format(string(format)), logfields.Error(err))
		return false
	}
	return ok
}

// runRawCommands executes build.commands in place of the phase pipeline.
func (d *Director) runRawCommands(ctx context.Context, st *buildState) error {
	if _, err := os.Stat(filepath.Join(st.checkoutPath, legacyOutputDir)); err == nil {
		return berrors.BuildUserError(
			"the legacy output directory " + legacyOutputDir + " exists in your repository; " +
				"build commands must write to $READTHEDOCS_OUTPUT instead")
	}

	if err := d.runCommands(ctx, st.env, st, st.config.Commands); err != nil {
		return err
	}

	htmlOut := filepath.Join(st.outputPath, "html")
	if _, err := os.Stat(htmlOut); err != nil {
		return berrors.BuildUserError(
			"no html output found; build commands must write the site to $READTHEDOCS_OUTPUT/html")
	}
	st.outcome.HTML = true
	st.outcome.Search = true
	return d.writeBuildMetadata(st)
}

// runHook executes the user's commands for a phase if an override is
// declared. A hook command failure is fatal to its phase.
func (d *Director) runHook(ctx context.Context, env sandbox.Environment, st *buildState, phase buildconfig.Phase) error {
	spec := st.config.Job(phase)
	if spec.Kind != buildconfig.JobUserOverride {
		return nil
	}
	slog.DebugContext(ctx, "Running job hook", logfields.Phase(string(phase)))
	return d.runCommands(ctx, env, st, spec.Commands)
}

func (d *Director) runCommands(ctx context.Context, env sandbox.Environment, st *buildState, commands []string) error {
	for _, cmd := range commands {
		if _, err := env.Run(ctx, sandbox.RunOptions{
			Cwd:           st.checkoutPath,
			Shell:         true,
			DemandSuccess: true,
		}, cmd); err != nil {
			return err
		}
	}
	return nil
}

// writeBuildMetadata regenerates the data file embedded in the rendered
// documentation after every build.
func (d *Director) writeBuildMetadata(st *buildState) error {
	data, err := artifacts.RenderMetadataFile(artifacts.BuildMetadata{
		Project:      st.project.Slug,
		Version:      st.version.Slug,
		Commit:       st.commit,
		BuildID:      st.job.BuildID,
		CanonicalURL: st.project.CanonicalURL,
		Language:     st.project.Language,
	})
	if err != nil {
		return err
	}
	target := filepath.Join(st.outputPath, "html", artifacts.MetadataFileName)
	if err := ensureDir(filepath.Dir(target)); err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return berrors.Wrap(err, berrors.CategoryArtifact, berrors.SeverityError,
			"could not write build metadata file").WithContext("path", target)
	}
	return nil
}

// hardenedSandbox requests the extra isolation layer for builds that
// combine pinned tools with custom job hooks: untrusted user commands
// next to a writable toolchain get the stronger boundary.
func hardenedSandbox(cfg *buildconfig.BuildConfig) bool {
	if len(cfg.Tools) == 0 {
		return false
	}
	for _, spec := range cfg.Jobs {
		if spec.Kind == buildconfig.JobUserOverride {
			return true
		}
	}
	return false
}

func projectDefaults(p *model.Project) buildconfig.ProjectDefaults {
	return buildconfig.ProjectDefaults{
		Doctype:         buildconfig.DoctypeSphinx,
		EnablePDFBuild:  p.EnablePDFBuild,
		EnableEpubBuild: p.EnableEpubBuild,
		InstallProject:  p.InstallProject,
		SystemPackages:  p.UseSystemPackages,
	}
}
