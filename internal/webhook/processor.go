package webhook

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/store"
	"github.com/docharbor/docharbor/internal/vcs"
)

// Result is the endpoint response body for a processed delivery.
type Result struct {
	BuildTriggered bool     `json:"build_triggered"`
	Project        string   `json:"project"`
	Versions       []string `json:"versions"`
}

// VersionStore is the slice of the store the processor mutates.
type VersionStore interface {
	GetVersion(ctx context.Context, projectID int64, slug string) (*model.Version, error)
	GetOrCreateExternalVersion(ctx context.Context, projectID int64, data model.ExternalVersionData) (*model.Version, error)
	CloseExternalVersion(ctx context.Context, projectID int64, externalID string) (*model.Version, error)
	UpdateLatestIdentifier(ctx context.Context, projectID int64, branch string) error
	SyncVersions(ctx context.Context, projectID int64, refs []store.RemoteRef) ([]string, error)
	CreateBuild(ctx context.Context, projectID, versionID int64) (*model.Build, error)
}

// Enqueuer accepts build jobs for asynchronous execution.
type Enqueuer interface {
	Enqueue(job *queue.Job) error
}

// RemoteLister abstracts remote ref listing for version sync.
type RemoteLister interface {
	ListRefs(ctx context.Context, repoURL string) ([]store.RemoteRef, string, error)
}

// GitRemoteLister lists refs over the git transport.
type GitRemoteLister struct {
	Auth *vcs.RemoteAuth
}

func (l *GitRemoteLister) ListRefs(ctx context.Context, repoURL string) ([]store.RemoteRef, string, error) {
	refs, head, err := vcs.ListRemoteRefs(ctx, repoURL, l.Auth)
	if err != nil {
		return nil, "", err
	}
	out := make([]store.RemoteRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, store.RemoteRef{Name: r.Name, IsTag: r.IsTag})
	}
	return out, head, nil
}

// Processor executes webhook decisions: it owns the store side effects
// and hands build work to the queue.
type Processor struct {
	store  VersionStore
	queue  Enqueuer
	remote RemoteLister
}

func NewProcessor(s VersionStore, q Enqueuer, remote RemoteLister) *Processor {
	return &Processor{store: s, queue: q, remote: remote}
}

// Process applies a decision against the target project. The
// default-branch freshening runs before the classified action,
// regardless of which action it is.
func (p *Processor) Process(ctx context.Context, target Target, d *Decision) (*Result, error) {
	result := &Result{Project: target.Project.Slug}

	if d.DefaultBranch != "" {
		if err := p.store.UpdateLatestIdentifier(ctx, target.Project.ID, d.DefaultBranch); err != nil {
			slog.ErrorContext(ctx, "Failed to freshen default branch",
				logfields.Project(target.Project.Slug), logfields.Error(err))
		}
	}

	switch d.Action {
	case ActionNoOp:
		return result, nil

	case ActionTriggerBuild:
		version, err := p.store.GetVersion(ctx, target.Project.ID, d.VersionSlug)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Unknown refs are accepted but do not build; the next
				// sync picks the version up.
				return result, nil
			}
			return nil, err
		}
		if err := p.triggerBuild(ctx, target.Project, version, d.Commit); err != nil {
			return nil, err
		}
		result.BuildTriggered = true
		result.Versions = []string{version.Slug}
		return result, nil

	case ActionTriggerExternal:
		version, err := p.store.GetOrCreateExternalVersion(ctx, target.Project.ID, *d.External)
		if err != nil {
			return nil, err
		}
		if err := p.triggerBuild(ctx, target.Project, version, d.External.Commit); err != nil {
			return nil, err
		}
		result.BuildTriggered = true
		result.Versions = []string{version.Slug}
		return result, nil

	case ActionCloseExternal:
		version, err := p.store.CloseExternalVersion(ctx, target.Project.ID, d.External.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return result, nil
			}
			return nil, err
		}
		result.Versions = []string{version.Slug}
		return result, nil

	case ActionSyncVersions:
		refs, _, err := p.remote.ListRefs(ctx, target.Project.RepoURL)
		if err != nil {
			return nil, err
		}
		added, err := p.store.SyncVersions(ctx, target.Project.ID, refs)
		if err != nil {
			return nil, err
		}
		result.Versions = added
		return result, nil

	default:
		return result, nil
	}
}

func (p *Processor) triggerBuild(ctx context.Context, project *model.Project, version *model.Version, commit string) error {
	build, err := p.store.CreateBuild(ctx, project.ID, version.ID)
	if err != nil {
		return err
	}
	return p.queue.Enqueue(&queue.Job{
		BuildID:     build.ID,
		Trigger:     queue.TriggerWebhook,
		ProjectSlug: project.Slug,
		VersionSlug: version.Slug,
		Commit:      commit,
	})
}
