package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
)

// nullHash is GitLab's marker for "no commit on this side", sent as
// before/after on branch creation and deletion pushes.
const nullHash = "0000000000000000000000000000000000000000"

// validateGitLab compares the X-Gitlab-Token header with the stored
// secret. GitLab sends the raw token, not an HMAC digest.
func validateGitLab(r *Request, secret string) bool {
	token := r.Headers.Get("X-Gitlab-Token")
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

type gitlabProject struct {
	DefaultBranch string `json:"default_branch"`
}

type gitlabPushPayload struct {
	ObjectKind string        `json:"object_kind"`
	Ref        *string       `json:"ref"`
	Before     string        `json:"before"`
	After      string        `json:"after"`
	Project    gitlabProject `json:"project"`
}

type gitlabMergeRequestPayload struct {
	ObjectAttributes *struct {
		Action       *string `json:"action"`
		IID          *int    `json:"iid"`
		SourceBranch *string `json:"source_branch"`
		TargetBranch *string `json:"target_branch"`
		LastCommit   *struct {
			ID *string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
	Project gitlabProject `json:"project"`
}

func classifyGitLab(r *Request, target Target) (*Decision, error) {
	switch r.Event {
	case "Push Hook", "Tag Push Hook":
		var p gitlabPushPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.Ref == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing ref")
		}
		d := &Decision{DefaultBranch: defaultBranchUpdate(p.Project.DefaultBranch, target)}
		// GitLab has no separate create/delete events; a null hash on
		// either side of the push marks ref creation or deletion, both
		// of which resolve to a version sync instead of a build.
		if p.Before == nullHash || p.After == nullHash {
			d.Action = ActionSyncVersions
			return d, nil
		}
		d.Action = ActionTriggerBuild
		d.VersionSlug = model.Slugify(stripRefPrefix(*p.Ref))
		d.Commit = p.After
		return d, nil

	case "Merge Request Hook":
		var p gitlabMergeRequestPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.ObjectAttributes == nil || p.ObjectAttributes.Action == nil || p.ObjectAttributes.IID == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing merge request attributes")
		}
		attrs := p.ObjectAttributes
		d := &Decision{DefaultBranch: defaultBranchUpdate(p.Project.DefaultBranch, target)}
		switch *attrs.Action {
		case "open", "reopen", "update":
			if !target.Project.ExternalBuildsEnabled {
				d.Action = ActionNoOp
				d.Reason = "external builds disabled for project"
				return d, nil
			}
			if err := allowExternalBuild(target); err != nil {
				return nil, err
			}
			if attrs.SourceBranch == nil || attrs.TargetBranch == nil || attrs.LastCommit == nil || attrs.LastCommit.ID == nil {
				return nil, buildErrors.WebhookPayloadError("payload not valid: missing merge request details")
			}
			d.Action = ActionTriggerExternal
			d.External = &model.ExternalVersionData{
				ID:           strconv.Itoa(*attrs.IID),
				Commit:       *attrs.LastCommit.ID,
				SourceBranch: *attrs.SourceBranch,
				BaseBranch:   *attrs.TargetBranch,
			}
			return d, nil
		case "close", "merge":
			d.Action = ActionCloseExternal
			d.External = &model.ExternalVersionData{ID: strconv.Itoa(*attrs.IID)}
			return d, nil
		default:
			d.Action = ActionNoOp
			d.Reason = "unhandled merge request action: " + *attrs.Action
			return d, nil
		}

	default:
		return &Decision{Action: ActionNoOp, Reason: "unhandled event: " + r.Event}, nil
	}
}
