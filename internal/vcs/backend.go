// Package vcs resolves and drives the version-control backend of a build.
// Checkout commands run through the build's VCS execution environment so
// their output is recorded against the build; remote ref listing for
// version sync goes through go-git directly.
package vcs

import (
	"context"

	berrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/buildconfig"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/sandbox"
)

// Backend is one version-control system driving a checkout.
type Backend interface {
	// Clone fetches the repository into the working directory.
	Clone(ctx context.Context) error

	// Checkout moves the working tree to the requested identifier
	// (commit, tag, or branch) and returns the resolved commit hash.
	Checkout(ctx context.Context, identifier string) (string, error)

	// SupportsSubmodules reports whether the backend can update submodules.
	SupportsSubmodules() bool

	// UpdateSubmodules initializes and updates submodules per config.
	UpdateSubmodules(ctx context.Context, cfg buildconfig.SubmodulesConfig) error
}

// Options carries what every backend needs.
type Options struct {
	RepoURL string
	WorkDir string // checkout path inside the environment
	Depth   int    // shallow clone depth, 0 for full history
}

// ForType resolves the backend for a repository type. Unknown types are a
// RepositoryError, fatal to the build.
func ForType(t model.VCSType, env sandbox.Environment, opts Options) (Backend, error) {
	switch t {
	case model.VCSGit:
		return newGitBackend(env, opts), nil
	default:
		return nil, berrors.RepositoryError("unknown repository type", nil).
			WithContext("repo_type", string(t))
	}
}
