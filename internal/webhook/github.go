package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
)

// validateGitHub checks the X-Hub-Signature-256 header (preferred) or
// the legacy X-Hub-Signature SHA-1 header against the raw body.
func validateGitHub(r *Request, secret string) bool {
	signature := r.Headers.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Headers.Get("X-Hub-Signature")
	}
	return validateHMACSignature(r.Body, signature, secret)
}

// validateHMACSignature implements the sha256=<hex> (and legacy
// sha1=<hex>) signature scheme shared by GitHub and Bitbucket.
func validateHMACSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	if strings.HasPrefix(signature, "sha256=") {
		expected := signature[len("sha256="):]
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		calc := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(calc))
	}

	if strings.HasPrefix(signature, "sha1=") {
		expected := signature[len("sha1="):]
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(payload)
		calc := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(calc))
	}

	return false
}

type githubRepository struct {
	DefaultBranch string `json:"default_branch"`
}

type githubPushPayload struct {
	Ref        *string          `json:"ref"`
	After      string           `json:"after"`
	Deleted    bool             `json:"deleted"`
	Repository githubRepository `json:"repository"`
}

type githubPullRequestPayload struct {
	Action      *string `json:"action"`
	Number      *int    `json:"number"`
	PullRequest *struct {
		Head *struct {
			Ref *string `json:"ref"`
			SHA *string `json:"sha"`
		} `json:"head"`
		Base *struct {
			Ref *string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository githubRepository `json:"repository"`
}

func classifyGitHub(r *Request, target Target) (*Decision, error) {
	switch r.Event {
	case "ping":
		d := &Decision{Action: ActionNoOp, Reason: "ping acknowledged"}
		d.DefaultBranch = githubDefaultBranch(r.Body, target)
		return d, nil

	case "create", "delete":
		d := &Decision{Action: ActionSyncVersions}
		d.DefaultBranch = githubDefaultBranch(r.Body, target)
		return d, nil

	case "push":
		var p githubPushPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.Ref == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing ref")
		}
		d := &Decision{DefaultBranch: defaultBranchUpdate(p.Repository.DefaultBranch, target)}
		if p.Deleted {
			// The explicit delete event carries the version sync;
			// triggering it here too would double-fire.
			d.Action = ActionNoOp
			d.Reason = "ref deleted, sync handled by delete event"
			return d, nil
		}
		d.Action = ActionTriggerBuild
		d.VersionSlug = model.Slugify(stripRefPrefix(*p.Ref))
		d.Commit = p.After
		return d, nil

	case "pull_request":
		var p githubPullRequestPayload
		if err := json.Unmarshal(r.Body, &p); err != nil || p.Action == nil || p.Number == nil {
			return nil, buildErrors.WebhookPayloadError("payload not valid: missing action or number")
		}
		d := &Decision{DefaultBranch: defaultBranchUpdate(p.Repository.DefaultBranch, target)}
		switch *p.Action {
		case "opened", "reopened", "synchronize":
			if !target.Project.ExternalBuildsEnabled {
				d.Action = ActionNoOp
				d.Reason = "external builds disabled for project"
				return d, nil
			}
			if err := allowExternalBuild(target); err != nil {
				return nil, err
			}
			pr := p.PullRequest
			if pr == nil || pr.Head == nil || pr.Head.Ref == nil || pr.Head.SHA == nil || pr.Base == nil || pr.Base.Ref == nil {
				return nil, buildErrors.WebhookPayloadError("payload not valid: missing pull request details")
			}
			d.Action = ActionTriggerExternal
			d.External = &model.ExternalVersionData{
				ID:           strconv.Itoa(*p.Number),
				Commit:       *pr.Head.SHA,
				SourceBranch: *pr.Head.Ref,
				BaseBranch:   *pr.Base.Ref,
			}
			return d, nil
		case "closed":
			d.Action = ActionCloseExternal
			d.External = &model.ExternalVersionData{ID: strconv.Itoa(*p.Number)}
			return d, nil
		default:
			d.Action = ActionNoOp
			d.Reason = "unhandled pull request action: " + *p.Action
			return d, nil
		}

	default:
		d := &Decision{Action: ActionNoOp, Reason: "unhandled event: " + r.Event}
		d.DefaultBranch = githubDefaultBranch(r.Body, target)
		return d, nil
	}
}

// allowExternalBuild refuses code-execution-adjacent PR builds on
// integrations without a secret. Push-triggered rebuilds stay allowed
// without one; the asymmetry is intentional.
func allowExternalBuild(target Target) error {
	if !target.Integration.HasSecret() {
		return buildErrors.WebhookPayloadError("external version builds require a configured webhook secret")
	}
	return nil
}

// defaultBranchUpdate decides whether the latest pointer should be
// freshened from the payload: only for authenticated deliveries and
// only when the project has no user-configured default branch.
func defaultBranchUpdate(payloadBranch string, target Target) string {
	if payloadBranch == "" || !target.Integration.HasSecret() || target.Project.DefaultBranch != "" {
		return ""
	}
	return payloadBranch
}

func githubDefaultBranch(body []byte, target Target) string {
	var p struct {
		Repository githubRepository `json:"repository"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return ""
	}
	return defaultBranchUpdate(p.Repository.DefaultBranch, target)
}
