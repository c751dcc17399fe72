package vcs

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/docharbor/docharbor/internal/buildconfig"
	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/sandbox"
)

// gitBackend drives git through the VCS execution environment. Every
// command is recorded against the build, so users see the same git output
// the builder saw.
type gitBackend struct {
	env  sandbox.Environment
	opts Options
}

func newGitBackend(env sandbox.Environment, opts Options) *gitBackend {
	if opts.Depth == 0 {
		opts.Depth = 50
	}
	return &gitBackend{env: env, opts: opts}
}

func (g *gitBackend) run(ctx context.Context, args ...string) (*sandbox.CommandResult, error) {
	res, err := g.env.Run(ctx, sandbox.RunOptions{Cwd: g.opts.WorkDir, DemandSuccess: true}, args...)
	if err != nil {
		return res, classifyGitError(err, g.opts.RepoURL)
	}
	return res, nil
}

// Clone performs a shallow clone into the working directory.
func (g *gitBackend) Clone(ctx context.Context) error {
	_, err := g.run(ctx,
		"git", "clone", "--depth", strconv.Itoa(g.opts.Depth), "--no-single-branch", g.opts.RepoURL, ".")
	return err
}

// Checkout fetches and force-checks-out the identifier, returning the
// resolved commit hash.
func (g *gitBackend) Checkout(ctx context.Context, identifier string) (string, error) {
	if _, err := g.run(ctx, "git", "fetch", "origin", "--force", "--prune", "--prune-tags", "--depth", strconv.Itoa(g.opts.Depth), identifier); err != nil {
		// Branch/tag fetch by name can fail for raw commits; fall back to
		// a plain fetch before checkout.
		if _, err := g.run(ctx, "git", "fetch", "origin", "--force", "--prune", "--depth", strconv.Itoa(g.opts.Depth)); err != nil {
			return "", err
		}
	}

	if _, err := g.run(ctx, "git", "checkout", "--force", "origin/"+identifier); err != nil {
		// Not a remote branch; try the identifier directly (tag or commit).
		if _, err := g.run(ctx, "git", "checkout", "--force", identifier); err != nil {
			return "", err
		}
	}

	res, err := g.run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func (g *gitBackend) SupportsSubmodules() bool { return true }

// UpdateSubmodules initializes the configured submodules.
func (g *gitBackend) UpdateSubmodules(ctx context.Context, cfg buildconfig.SubmodulesConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	args := []string{"git", "submodule", "update", "--init", "--force"}
	if cfg.Recursive {
		args = append(args, "--recursive")
	}
	if !(len(cfg.Include) == 1 && cfg.Include[0] == "all") {
		args = append(args, "--")
		args = append(args, cfg.Include...)
	}
	_, err := g.run(ctx, args...)
	return err
}

// classifyGitError translates sandbox command failures into repository
// errors with a user-facing message keyed off the git output.
func classifyGitError(err error, url string) error {
	var cmdErr *sandbox.CommandError
	if !asCommandError(err, &cmdErr) {
		return err
	}
	out := strings.ToLower(cmdErr.Result.Output)
	msg := "there was a problem cloning your repository"
	switch {
	case strings.Contains(out, "authentication failed") || strings.Contains(out, "could not read username"):
		msg = "repository authentication failed; private repositories are not allowed"
	case strings.Contains(out, "repository not found") || strings.Contains(out, "not found"):
		msg = "repository not found; check the repository URL"
	case strings.Contains(out, "did not match any file") || strings.Contains(out, "pathspec"):
		msg = "the requested revision was not found in the repository"
	}
	return berrors.RepositoryError(msg, err).WithContext("url", url)
}

func asCommandError(err error, target **sandbox.CommandError) bool {
	return errors.As(err, target)
}
