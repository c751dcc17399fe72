package webhook

import (
	"encoding/json"
	"strconv"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
)

// validateBitbucket checks the X-Hub-Signature header, which uses the
// same sha256=<hex> scheme as GitHub.
func validateBitbucket(r *Request, secret string) bool {
	return validateHMACSignature(r.Body, r.Headers.Get("X-Hub-Signature"), secret)
}

type bitbucketRef struct {
	Name   *string `json:"name"`
	Target *struct {
		Hash string `json:"hash"`
	} `json:"target"`
}

type bitbucketPushPayload struct {
	Push *struct {
		Changes []struct {
			New *bitbucketRef `json:"new"`
			Old *bitbucketRef `json:"old"`
		} `json:"changes"`
	} `json:"push"`
	Repository struct {
		MainBranch struct {
			Name string `json:"name"`
		} `json:"mainbranch"`
	} `json:"repository"`
}

type bitbucketPullRequestPayload struct {
	PullRequest *struct {
		ID     *int `json:"id"`
		Source *struct {
			Branch *struct {
				Name *string `json:"name"`
			} `json:"branch"`
			Commit *struct {
				Hash *string `json:"hash"`
			} `json:"commit"`
		} `json:"source"`
		Destination *struct {
			Branch *struct {
				Name *string `json:"name"`
			} `json:"branch"`
		} `json:"destination"`
	} `json:"pullrequest"`
}

func classifyBitbucket(r *Request, target Target) (*Decision, error) {
	switch r.Event {
	case "repo:push":
		var p bitbucketPushPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.Push == nil || len(p.Push.Changes) == 0 {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing push changes")
		}
		d := &Decision{DefaultBranch: defaultBranchUpdate(p.Repository.MainBranch.Name, target)}
		change := p.Push.Changes[0]
		// A missing side of the change marks ref creation or deletion.
		if change.New == nil || change.Old == nil {
			d.Action = ActionSyncVersions
			return d, nil
		}
		if change.New.Name == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing ref name")
		}
		d.Action = ActionTriggerBuild
		d.VersionSlug = model.Slugify(*change.New.Name)
		if change.New.Target != nil {
			d.Commit = change.New.Target.Hash
		}
		return d, nil

	case "pullrequest:created", "pullrequest:updated":
		var p bitbucketPullRequestPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.PullRequest == nil || p.PullRequest.ID == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing pull request")
		}
		if !target.Project.ExternalBuildsEnabled {
			return &Decision{Action: ActionNoOp, Reason: "external builds disabled for project"}, nil
		}
		if err := allowExternalBuild(target); err != nil {
			return nil, err
		}
		pr := p.PullRequest
		if pr.Source == nil || pr.Source.Branch == nil || pr.Source.Branch.Name == nil ||
			pr.Source.Commit == nil || pr.Source.Commit.Hash == nil ||
			pr.Destination == nil || pr.Destination.Branch == nil || pr.Destination.Branch.Name == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing pull request details")
		}
		return &Decision{
			Action: ActionTriggerExternal,
			External: &model.ExternalVersionData{
				ID:           strconv.Itoa(*pr.ID),
				Commit:       *pr.Source.Commit.Hash,
				SourceBranch: *pr.Source.Branch.Name,
				BaseBranch:   *pr.Destination.Branch.Name,
			},
		}, nil

	case "pullrequest:fulfilled", "pullrequest:rejected":
		var p bitbucketPullRequestPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.PullRequest == nil || p.PullRequest.ID == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing pull request")
		}
		return &Decision{
			Action:   ActionCloseExternal,
			External: &model.ExternalVersionData{ID: strconv.Itoa(*p.PullRequest.ID)},
		}, nil

	default:
		return &Decision{Action: ActionNoOp, Reason: "unhandled event: " + r.Event}, nil
	}
}
