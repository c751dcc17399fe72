package vcs

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	berrors "github.com/docharbor/docharbor/internal/errors"
)

// RemoteRef is one branch or tag advertised by the remote.
type RemoteRef struct {
	Name   string // short name, e.g. "main" or "v1.0"
	Commit string
	IsTag  bool
}

// RemoteAuth carries optional token auth for private remotes.
type RemoteAuth struct {
	Username string
	Token    string
}

// ListRemoteRefs lists the branches and tags of a remote repository
// without cloning it. Version sync uses this to reconcile the version set
// and resolve the remote default branch (HEAD).
func ListRemoteRefs(ctx context.Context, url string, auth *RemoteAuth) ([]RemoteRef, string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	var authMethod transport.AuthMethod
	if auth != nil && auth.Token != "" {
		username := auth.Username
		if username == "" {
			username = "git"
		}
		authMethod = &githttp.BasicAuth{Username: username, Password: auth.Token}
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: authMethod})
	if err != nil {
		return nil, "", berrors.RepositoryError("could not list remote references", err).
			WithContext("url", url)
	}

	var out []RemoteRef
	var headTarget string
	for _, ref := range refs {
		name := ref.Name().String()
		switch {
		case name == "HEAD":
			// Symbolic HEAD points at the remote default branch.
			headTarget = strings.TrimPrefix(ref.Target().String(), "refs/heads/")
		case strings.HasPrefix(name, "refs/heads/"):
			out = append(out, RemoteRef{
				Name:   strings.TrimPrefix(name, "refs/heads/"),
				Commit: ref.Hash().String(),
			})
		case strings.HasPrefix(name, "refs/tags/") && !strings.HasSuffix(name, "^{}"):
			out = append(out, RemoteRef{
				Name:   strings.TrimPrefix(name, "refs/tags/"),
				Commit: ref.Hash().String(),
				IsTag:  true,
			})
		}
	}
	return out, headTarget, nil
}
